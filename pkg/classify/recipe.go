package classify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	errs "postvault/pkg/errors"
	"postvault/pkg/logger"
)

// Labels the recipe classifier emits
const (
	LabelRecipe    = "recipe"
	LabelNotRecipe = "not_recipe"
)

// Recipe is the built-in binary classifier. It labels text as recipe
// or not_recipe and pulls out cooking details along the way.
type Recipe struct {
	provider *Provider
	logger   logger.Logger
}

// NewRecipe creates the recipe classifier
func NewRecipe(provider *Provider, log logger.Logger) *Recipe {
	if log == nil {
		log = logger.GetLogger()
	}
	return &Recipe{provider: provider, logger: log}
}

// Name identifies this classifier in stored verdicts
func (r *Recipe) Name() string {
	return RecipeName
}

// Metadata describes the backing provider for stored verdicts
func (r *Recipe) Metadata() map[string]interface{} {
	return r.provider.Metadata()
}

// recipeReply is the JSON shape the prompt asks the model for. The
// optional fields stay nil when the model leaves them null.
type recipeReply struct {
	IsRecipe         bool    `json:"is_recipe"`
	CuisineType      *string `json:"cuisine_type"`
	Difficulty       *string `json:"difficulty"`
	MealType         *string `json:"meal_type"`
	IngredientsCount *int    `json:"ingredients_count"`
}

// Predict labels one text as recipe or not_recipe
func (r *Recipe) Predict(ctx context.Context, text string) (Result, error) {
	content, err := r.provider.Chat(ctx, []ChatMessage{
		{Role: "user", Content: buildRecipePrompt(text)},
	})
	if err != nil {
		return Result{}, err
	}

	var reply recipeReply
	if err := json.Unmarshal([]byte(extractJSON(content)), &reply); err != nil {
		return Result{}, errs.New(errs.ErrorTypeParsing,
			fmt.Sprintf("model reply is not the expected JSON: %v", err))
	}

	label := LabelNotRecipe
	if reply.IsRecipe {
		label = LabelRecipe
	}
	confidence := recipeConfidence(reply)

	r.logger.DebugWithFields("recipe verdict", map[string]interface{}{
		"label":      label,
		"confidence": confidence,
	})

	return Result{
		Label:      label,
		Confidence: confidence,
		Details:    reply.details(),
	}, nil
}

// buildRecipePrompt asks for a structured recipe analysis
func buildRecipePrompt(text string) string {
	var b strings.Builder

	b.WriteString("Analyze if the following content is a recipe and extract key details.\n\n")
	b.WriteString("Content: ")
	b.WriteString(text)

	b.WriteString("\n\nRespond with a JSON object holding exactly these keys:\n")
	b.WriteString(`- "is_recipe": boolean, whether the content is a recipe` + "\n")
	b.WriteString(`- "cuisine_type": string or null, type of cuisine (e.g. Italian, Mexican)` + "\n")
	b.WriteString(`- "difficulty": string or null, one of easy, medium, hard` + "\n")
	b.WriteString(`- "meal_type": string or null, e.g. breakfast, lunch, dinner, dessert` + "\n")
	b.WriteString(`- "ingredients_count": integer or null, estimated number of ingredients` + "\n")

	b.WriteString("\nProvide a detailed analysis focusing on recipe characteristics.\n")
	b.WriteString("If it's not a recipe, set is_recipe to false and leave the other fields null.")

	return b.String()
}

// recipeConfidence scores the verdict by how complete it is. A recipe
// with no detail scores 0.6 and each of the four optional fields adds
// 0.1 up to 1.0. A clean rejection scores 1.0, one that still carries
// stray detail only 0.7.
func recipeConfidence(reply recipeReply) float64 {
	filled := 0
	if reply.CuisineType != nil {
		filled++
	}
	if reply.Difficulty != nil {
		filled++
	}
	if reply.MealType != nil {
		filled++
	}
	if reply.IngredientsCount != nil {
		filled++
	}

	if !reply.IsRecipe {
		if filled == 0 {
			return 1.0
		}
		return 0.7
	}

	confidence := 0.6 + float64(filled)*0.1
	if confidence > 1.0 {
		confidence = 1.0
	}
	return confidence
}

// details exposes the full reply shape, nulls included, so stored
// verdicts show which fields the model filled in
func (reply recipeReply) details() map[string]interface{} {
	details := map[string]interface{}{
		"is_recipe":         reply.IsRecipe,
		"cuisine_type":      nil,
		"difficulty":        nil,
		"meal_type":         nil,
		"ingredients_count": nil,
	}
	if reply.CuisineType != nil {
		details["cuisine_type"] = *reply.CuisineType
	}
	if reply.Difficulty != nil {
		details["difficulty"] = *reply.Difficulty
	}
	if reply.MealType != nil {
		details["meal_type"] = *reply.MealType
	}
	if reply.IngredientsCount != nil {
		details["ingredients_count"] = *reply.IngredientsCount
	}
	return details
}
