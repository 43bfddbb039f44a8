package analysis

import (
	"encoding/json"
	"fmt"
	"hash/fnv"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Fallback builds a payload from the input alone. The same input always
// yields the same payload.
func Fallback(in Input) *Payload {
	kw := in.Keyword

	competitor, _ := json.Marshal(map[string]any{
		"avgContentLength": 1200,
		"topKeywords":      []string{kw, kw + " recipe", "cooking"},
		"avgSeoScore":      75,
	})

	description := fmt.Sprintf("Learn how to make the perfect %s with this easy, step-by-step recipe. Quick, delicious, and family-friendly!", kw)

	p := &Payload{
		OptimizedTitle:       truncateRunes(titleCase(kw)+" - "+in.Title, maxTitleRunes),
		OptimizedDescription: truncateRunes(description, maxDescriptionRunes),
		SEOScore:             fallbackScore(in.RecipeURL, kw),
		TargetKeywords:       []string{kw},
		SuggestedKeywords: []string{
			"easy " + kw,
			"best " + kw,
			"homemade " + kw,
			"quick " + kw + " recipe",
			kw + " ingredients",
		},
		OptimizationSuggestions: []string{
			fmt.Sprintf("Include %q in the recipe title", kw),
			"Add recipe schema markup for rich snippets",
			"Optimize images with descriptive alt text",
			"Include prep time, cook time, and total time",
			"Add nutritional information if available",
		},
		CompetitorAnalysis: competitor,
	}
	p.SchemaMarkup = SchemaMarkup(in.Title, p.OptimizedDescription, kw)
	return p
}

// fallbackScore is a stable score in [70, 99].
func fallbackScore(url, keyword string) int {
	h := fnv.New32a()
	h.Write([]byte(url + keyword))
	return 70 + int(h.Sum32()%30)
}

// SchemaMarkup renders schema.org Recipe JSON-LD naming the recipe title.
func SchemaMarkup(title, description, keyword string) string {
	doc := map[string]any{
		"@context":    "https://schema.org/",
		"@type":       "Recipe",
		"name":        title,
		"description": description,
		"keywords":    keyword,
		"author": map[string]string{
			"@type": "Person",
			"name":  "RecipeRank User",
		},
		"prepTime":           "PT15M",
		"cookTime":           "PT30M",
		"totalTime":          "PT45M",
		"recipeYield":        "4 servings",
		"recipeIngredient":   []string{},
		"recipeInstructions": []string{},
	}
	b, _ := json.Marshal(doc)
	return string(b)
}

func titleCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		r, size := utf8.DecodeRuneInString(w)
		words[i] = string(unicode.ToUpper(r)) + w[size:]
	}
	return strings.Join(words, " ")
}
