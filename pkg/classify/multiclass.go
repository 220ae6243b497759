package classify

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	errs "postvault/pkg/errors"
	"postvault/pkg/logger"
)

// MultiClass asks the model to pick exactly one of a configured set
// of categories
type MultiClass struct {
	provider *Provider
	classes  map[string]string
	names    []string
	logger   logger.Logger
}

// NewMultiClass creates a classifier over the given category set.
// Classes map names to the descriptions shown to the model, at least
// two are required.
func NewMultiClass(provider *Provider, classes map[string]string, log logger.Logger) (*MultiClass, error) {
	if log == nil {
		log = logger.GetLogger()
	}
	if len(classes) < 2 {
		return nil, errs.New(errs.ErrorTypeClassification,
			fmt.Sprintf("multi-class needs at least two classes, got %d", len(classes)))
	}

	names := make([]string, 0, len(classes))
	for name := range classes {
		names = append(names, name)
	}
	sort.Strings(names)

	return &MultiClass{
		provider: provider,
		classes:  classes,
		names:    names,
		logger:   log,
	}, nil
}

// Name identifies this classifier in stored verdicts
func (m *MultiClass) Name() string {
	return MultiClassName
}

// Classes returns the category names in sorted order
func (m *MultiClass) Classes() []string {
	out := make([]string, len(m.names))
	copy(out, m.names)
	return out
}

// Metadata describes the backing provider for stored verdicts
func (m *MultiClass) Metadata() map[string]interface{} {
	return m.provider.Metadata()
}

// multiClassReply is the JSON shape the prompt asks the model for
type multiClassReply struct {
	PredictedClass string  `json:"predicted_class"`
	Confidence     float64 `json:"confidence"`
	Reasoning      string  `json:"reasoning"`
}

// Predict labels one text with the best fitting category
func (m *MultiClass) Predict(ctx context.Context, text string) (Result, error) {
	content, err := m.provider.Chat(ctx, []ChatMessage{
		{Role: "user", Content: m.buildPrompt(text)},
	})
	if err != nil {
		return Result{}, err
	}

	var reply multiClassReply
	if err := json.Unmarshal([]byte(extractJSON(content)), &reply); err != nil {
		return Result{}, errs.New(errs.ErrorTypeParsing,
			fmt.Sprintf("model reply is not the expected JSON: %v", err))
	}

	label, ok := m.canonicalLabel(reply.PredictedClass)
	if !ok {
		return Result{}, errs.New(errs.ErrorTypeClassification,
			fmt.Sprintf("model predicted unknown class %q", reply.PredictedClass))
	}

	m.logger.DebugWithFields("multi-class verdict", map[string]interface{}{
		"label":      label,
		"confidence": reply.Confidence,
	})

	return Result{
		Label:      label,
		Confidence: clampConfidence(reply.Confidence),
		Details: map[string]interface{}{
			"reasoning":         reply.Reasoning,
			"available_classes": m.Classes(),
		},
	}, nil
}

// buildPrompt lays out the categories, the rules, and the input text
func (m *MultiClass) buildPrompt(text string) string {
	var b strings.Builder

	b.WriteString("You are a text classification assistant. Classify the given text into one of the following categories.\n\n")

	b.WriteString("## Available Categories:\n")
	for _, name := range m.names {
		fmt.Fprintf(&b, "- **%s**: %s\n", name, m.classes[name])
	}

	b.WriteString("\n## Instructions:\n")
	b.WriteString("1. Read the text carefully\n")
	b.WriteString("2. Determine which category fits it best\n")
	b.WriteString("3. Give a confidence between 0.0 and 1.0\n")
	b.WriteString("4. Give a brief reasoning for your choice\n")

	b.WriteString("\n## Important:\n")
	fmt.Fprintf(&b, "- You MUST choose one of: %s\n", m.quotedNames())
	b.WriteString("- Do not invent new categories\n")
	b.WriteString("- If no category fits well, pick the closest match and reflect the uncertainty in the confidence\n")

	b.WriteString("\n## Input Text:\n")
	b.WriteString(text)

	b.WriteString("\n\nRespond with a JSON object holding exactly these keys: ")
	b.WriteString(`"predicted_class", "confidence", "reasoning".`)

	return b.String()
}

func (m *MultiClass) quotedNames() string {
	quoted := make([]string, len(m.names))
	for i, name := range m.names {
		quoted[i] = fmt.Sprintf("%q", name)
	}
	return strings.Join(quoted, ", ")
}

// canonicalLabel matches the model's class case-insensitively and
// returns the configured spelling
func (m *MultiClass) canonicalLabel(predicted string) (string, bool) {
	predicted = strings.TrimSpace(predicted)
	if _, ok := m.classes[predicted]; ok {
		return predicted, true
	}
	for _, name := range m.names {
		if strings.EqualFold(name, predicted) {
			return name, true
		}
	}
	return "", false
}
