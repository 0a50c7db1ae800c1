package model

import (
	"fmt"
	"sort"
	"strings"
	"unicode"
)

// NutritionRecord holds nutrient facts of a food per serving unit
type NutritionRecord struct {
	Name         string             `json:"name" firestore:"name"`
	Category     string             `json:"category,omitempty" firestore:"category"`
	ServingUnit  string             `json:"serving_unit" firestore:"serving_unit"`
	Calories     float64            `json:"calories" firestore:"calories"`
	Protein      float64            `json:"protein" firestore:"protein"`
	Fat          float64            `json:"fat" firestore:"fat"`
	Carbohydrate float64            `json:"carbohydrate" firestore:"carbohydrate"`
	Fiber        float64            `json:"fiber,omitempty" firestore:"fiber"`
	VitaminC     float64            `json:"vitamin_c,omitempty" firestore:"vitamin_c"`
	Calcium      float64            `json:"calcium,omitempty" firestore:"calcium"`
	Iron         float64            `json:"iron,omitempty" firestore:"iron"`
	Extra        map[string]float64 `json:"extra,omitempty" firestore:"extra"`
}

// Key returns the identity of the record
func (r *NutritionRecord) Key() string {
	return NormalizeFoodName(r.Name)
}

// Description renders the text that represents the record in the embedding space
func (r *NutritionRecord) Description() string {
	var b strings.Builder
	b.WriteString(r.Name)
	if r.Category != "" {
		fmt.Fprintf(&b, " is a %s.", r.Category)
	} else {
		b.WriteString(".")
	}
	fmt.Fprintf(&b, " Per %s: %g kcal, protein %gg, carbohydrate %gg, fat %gg, fiber %gg, vitamin C %gmg, calcium %gmg, iron %gmg.",
		r.ServingUnit, r.Calories, r.Protein, r.Carbohydrate, r.Fat, r.Fiber, r.VitaminC, r.Calcium, r.Iron)

	if len(r.Extra) > 0 {
		keys := make([]string, 0, len(r.Extra))
		for k := range r.Extra {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, " %s %g.", k, r.Extra[k])
		}
	}
	return b.String()
}

// ScoredRecord is a search hit with its cosine similarity
type ScoredRecord struct {
	Record *NutritionRecord `json:"record"`
	Score  float64          `json:"score"`
}

var diacriticReplacer = strings.NewReplacer(
	"á", "a", "à", "a", "ä", "a", "â", "a", "ã", "a",
	"é", "e", "è", "e", "ê", "e", "ë", "e",
	"í", "i", "ì", "i", "î", "i", "ï", "i",
	"ó", "o", "ò", "o", "ô", "o", "ö", "o", "õ", "o",
	"ú", "u", "ù", "u", "û", "u", "ü", "u",
	"ñ", "n", "ç", "c", "œ", "oe", "ø", "o",
)

// NormalizeFoodName folds case, diacritics, punctuation and whitespace so that
// "Crème Brûlée " and "creme brulee" share one identity.
func NormalizeFoodName(raw string) string {
	lowered := diacriticReplacer.Replace(strings.ToLower(strings.TrimSpace(raw)))

	var b strings.Builder
	space := false
	for _, r := range lowered {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r):
			if space && b.Len() > 0 {
				b.WriteByte(' ')
			}
			space = false
			b.WriteRune(r)
		default:
			space = true
		}
	}
	return b.String()
}
