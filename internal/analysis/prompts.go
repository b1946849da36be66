package analysis

import "fmt"

const fastPromptTemplate = `Analyze this academic paper and provide a structured summary in JSON format.

Return ONLY valid JSON matching this exact structure (no markdown, no extra text):
{
  "title": "The paper's title",
  "authors": ["author 1", "author 2"],
  "affiliations": ["affiliation 1"],
  "abstract": "The paper's abstract, condensed if necessary",
  "keywords": ["keyword 1", "keyword 2"],
  "introduction": "Key points from the introduction",
  "related_work": "Summary of related work and background",
  "problem_statement": "Core research questions or problems addressed",
  "methodology": "2-4 sentences describing the research methodology in plain English",
  "results": "Key findings and experimental outcomes",
  "discussion": "Analysis and interpretation of the results",
  "limitations": ["acknowledged limitation 1"],
  "future_work": ["proposed future direction 1"],
  "conclusion": "Main conclusions"
}

Paper text:
%s`

const deepPromptTemplate = `You are analyzing an academic paper in depth. For each section below, write a
comprehensive, detailed analysis (a full paragraph or more per section).

Return ONLY valid JSON matching this exact structure (no markdown, no extra text):
{
  "introduction": "In-depth explanation of the introduction and its framing",
  "related_work": "Comprehensive review of the related work discussed",
  "problem_statement": "Detailed problem formulation and research questions",
  "methodology": "Thorough explanation of the methodology and design choices",
  "results": "Comprehensive analysis of the results and what they show",
  "discussion": "In-depth discussion and interpretation",
  "limitations": "Detailed analysis of limitations and threats to validity",
  "conclusion_future_work": "Comprehensive conclusion and future directions"
}

Paper text:
%s`

func fastPrompt(text string) string {
	return fmt.Sprintf(fastPromptTemplate, text)
}

func deepPrompt(text string) string {
	return fmt.Sprintf(deepPromptTemplate, text)
}
