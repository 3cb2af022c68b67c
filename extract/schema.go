package extract

import (
	"encoding/json"
	"fmt"

	"github.com/shahryar908/visa-scraper/models"
)

// DefaultInstruction asks the model for one object per visa type.
const DefaultInstruction = `Extract detailed visa information for each available visa type from the provided content. Structure the extracted information as separate objects if multiple visa types exist. Ensure each visa type includes the following details

Country: Name of the country for which the visa is issued.
Visa Type: The specific type of visa (e.g., Student Visa, Work Visa, Tourist Visa).
Requirements: A list of all required documents and conditions (e.g., passport, proof of funds, invitation letter, language proficiency, medical insurance).
Processing Time: The estimated time required to process the visa application.
Validity: The duration for which the visa remains valid after issuance.
Fees: The cost of the visa application in the respective currency.
Entry Type: Whether the visa is single-entry, multiple-entry, or transit.
Allowed Stay: The permitted duration a visa holder can stay in the country under this visa type.
Embassy Link (if available): The official website link of the embassy or consulate for further information.
Additional Notes: Any extra details about visa extensions, work permissions, or specific country-based rules.`

var fieldDescriptions = map[string]string{
	"country":         "Name of the country issuing the visa",
	"visa_type":       "Type of visa (e.g., Student, Work, Tourist)",
	"requirements":    "List of required documents and conditions",
	"processing_time": "Estimated processing time",
	"validity":        "How long the visa stays valid after issuance",
	"fees":            "Application fee in the local currency",
	"entry_type":      "Single-entry, multiple-entry or transit",
	"allowed_stay":    "Permitted stay under this visa",
	"embassy_link":    "Official embassy or consulate website",
	"notes":           "Extensions, work permissions or other rules",
}

var recordSchema = mustJSON(buildSchema())

// Schema returns the JSON schema of a visa record.
func Schema() string {
	return recordSchema
}

func buildSchema() map[string]any {
	properties := make(map[string]any, len(models.FieldNames))
	for _, name := range models.FieldNames {
		prop := map[string]any{
			"type":        "string",
			"description": fieldDescriptions[name],
		}
		if name == "requirements" {
			prop["type"] = "array"
			prop["items"] = map[string]string{"type": "string"}
		}
		properties[name] = prop
	}
	return map[string]any{
		"title":      "VisaInfo",
		"type":       "object",
		"properties": properties,
		"required":   models.DefaultRequiredFields,
	}
}

func mustJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("encode schema: %v", err))
	}
	return string(b)
}
