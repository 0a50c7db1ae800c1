package diet

import (
	"math"

	"github.com/m-mizutani/nutriguide/pkg/model"
)

// Meal shares of the daily calorie target
var mealShares = []struct {
	meal  string
	share float64
}{
	{"breakfast", 0.3},
	{"lunch", 0.4},
	{"dinner", 0.3},
}

// Targets are the daily intake targets derived from a profile
type Targets struct {
	BMI            float64            `json:"bmi"`
	BMIStatus      string             `json:"bmi_status"`
	BMR            float64            `json:"bmr_kcal"`
	ActivityFactor float64            `json:"activity_factor"`
	GoalFactor     float64            `json:"goal_factor"`
	DailyCalories  float64            `json:"daily_calories_kcal"`
	Meals          map[string]float64 `json:"meal_calories_kcal"`
	ProteinGrams   float64            `json:"protein_g"`
	CarbGrams      float64            `json:"carbohydrate_g"`
	FatGrams       float64            `json:"fat_g"`
}

// ComputeTargets derives BMI, Mifflin-St Jeor BMR and goal-adjusted calorie and macro targets
func ComputeTargets(p *model.Profile) *Targets {
	heightM := p.HeightCM / 100
	bmi := p.WeightKG / (heightM * heightM)

	bmr := 10*p.WeightKG + 6.25*p.HeightCM - 5*float64(p.Age) + sexConstant(p.Sex)
	activity := p.ActivityLevel.Multiplier()
	spec := p.Goal.Spec()
	daily := bmr * activity * spec.CalorieFactor

	t := &Targets{
		BMI:            round(bmi, 1),
		BMIStatus:      bmiStatus(bmi),
		BMR:            math.Round(bmr),
		ActivityFactor: activity,
		GoalFactor:     spec.CalorieFactor,
		DailyCalories:  math.Round(daily),
		Meals:          make(map[string]float64, len(mealShares)),
		ProteinGrams:   math.Round(daily * float64(spec.ProteinPct) / 100 / 4),
		CarbGrams:      math.Round(daily * float64(spec.CarbPct) / 100 / 4),
		FatGrams:       math.Round(daily * float64(spec.FatPct) / 100 / 9),
	}
	for _, m := range mealShares {
		t.Meals[m.meal] = math.Round(daily * m.share)
	}
	return t
}

// sexConstant is the Mifflin-St Jeor offset; unspecified uses the midpoint of male and female
func sexConstant(s model.Sex) float64 {
	switch s {
	case model.SexMale:
		return 5
	case model.SexFemale:
		return -161
	default:
		return -78
	}
}

func bmiStatus(bmi float64) string {
	switch {
	case bmi < 18.5:
		return "underweight"
	case bmi < 24:
		return "normal"
	case bmi < 28:
		return "overweight"
	default:
		return "obese"
	}
}

func round(v float64, digits int) float64 {
	p := math.Pow(10, float64(digits))
	return math.Round(v*p) / p
}
