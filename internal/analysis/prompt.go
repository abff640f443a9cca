package analysis

import (
	"encoding/json"
	"fmt"

	"stockwatch/internal/alerts/rules"
)

const promptPrefix = "Please list the following inventory items that are low on stock or nearing expiry: "

// BuildPrompt renders the at-risk items as the JSON tail of the summary request.
func BuildPrompt(items []rules.AtRiskItem) (string, error) {
	if items == nil {
		items = []rules.AtRiskItem{}
	}
	payload, err := json.Marshal(items)
	if err != nil {
		return "", fmt.Errorf("encode at-risk items: %w", err)
	}
	return promptPrefix + string(payload), nil
}
