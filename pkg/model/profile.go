package model

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
)

type UserID string

// Goal is the health goal of a user. New goals are added by registering them in goalTable.
type Goal string

const (
	GoalLoseWeight    Goal = "lose-weight"
	GoalGainMuscle    Goal = "gain-muscle"
	GoalImproveHealth Goal = "improve-health"
	GoalMaintain      Goal = "maintain"
	GoalGainWeight    Goal = "gain-weight"
)

// GoalSpec describes how a goal shapes the caloric budget and retrieval.
type GoalSpec struct {
	CalorieFactor float64
	// Macro split in percent of calories
	ProteinPct int
	CarbPct    int
	FatPct     int
	// QueryHint is prepended to retrieval queries issued on behalf of the goal
	QueryHint string
}

var goalTable = map[Goal]GoalSpec{
	GoalLoseWeight:    {CalorieFactor: 0.8, ProteinPct: 30, CarbPct: 40, FatPct: 30, QueryHint: "low calorie high fiber high protein"},
	GoalGainMuscle:    {CalorieFactor: 1.15, ProteinPct: 30, CarbPct: 45, FatPct: 25, QueryHint: "high protein"},
	GoalImproveHealth: {CalorieFactor: 1.0, ProteinPct: 20, CarbPct: 50, FatPct: 30, QueryHint: "vitamin rich vegetable fruit fiber"},
	GoalMaintain:      {CalorieFactor: 1.0, ProteinPct: 20, CarbPct: 50, FatPct: 30, QueryHint: "balanced"},
	GoalGainWeight:    {CalorieFactor: 1.2, ProteinPct: 20, CarbPct: 50, FatPct: 30, QueryHint: "energy dense high calorie"},
}

// Validate checks if the goal is registered
func (g Goal) Validate() error {
	if _, ok := goalTable[g]; !ok {
		return goerr.Wrap(ErrInvalidProfileField, "unknown goal", goerr.V("field", "goal"), goerr.V("goal", g))
	}
	return nil
}

// Spec returns the goal's specification. Unknown goals fall back to maintain.
func (g Goal) Spec() GoalSpec {
	if spec, ok := goalTable[g]; ok {
		return spec
	}
	return goalTable[GoalMaintain]
}

// Goals returns all registered goals in stable order
func Goals() []Goal {
	goals := make([]Goal, 0, len(goalTable))
	for g := range goalTable {
		goals = append(goals, g)
	}
	sort.Slice(goals, func(i, j int) bool { return goals[i] < goals[j] })
	return goals
}

type Sex string

const (
	SexUnspecified Sex = "unspecified"
	SexMale        Sex = "male"
	SexFemale      Sex = "female"
)

// Validate checks if the sex value is valid
func (s Sex) Validate() error {
	switch s {
	case SexUnspecified, SexMale, SexFemale:
		return nil
	default:
		return goerr.Wrap(ErrInvalidProfileField, "unknown sex", goerr.V("field", "sex"), goerr.V("sex", s))
	}
}

type ActivityLevel string

const (
	ActivitySedentary ActivityLevel = "sedentary"
	ActivityLight     ActivityLevel = "light"
	ActivityModerate  ActivityLevel = "moderate"
	ActivityActive    ActivityLevel = "active"
)

var activityMultipliers = map[ActivityLevel]float64{
	ActivitySedentary: 1.2,
	ActivityLight:     1.375,
	ActivityModerate:  1.55,
	ActivityActive:    1.725,
}

// Validate checks if the activity level is valid
func (a ActivityLevel) Validate() error {
	if _, ok := activityMultipliers[a]; !ok {
		return goerr.Wrap(ErrInvalidProfileField, "unknown activity level", goerr.V("field", "activity_level"), goerr.V("activity_level", a))
	}
	return nil
}

// Multiplier returns the TDEE multiplier; unknown levels count as light activity
func (a ActivityLevel) Multiplier() float64 {
	if m, ok := activityMultipliers[a]; ok {
		return m
	}
	return activityMultipliers[ActivityLight]
}

// Profile is the structured health profile of a user
type Profile struct {
	UserID        UserID        `json:"user_id" firestore:"user_id"`
	Age           int           `json:"age" firestore:"age"`
	HeightCM      float64       `json:"height_cm" firestore:"height_cm"`
	WeightKG      float64       `json:"weight_kg" firestore:"weight_kg"`
	Goal          Goal          `json:"goal" firestore:"goal"`
	Sex           Sex           `json:"sex" firestore:"sex"`
	ActivityLevel ActivityLevel `json:"activity_level" firestore:"activity_level"`
	Preferences   []string      `json:"preferences" firestore:"preferences"`
	CreatedAt     time.Time     `json:"created_at" firestore:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at" firestore:"updated_at"`
}

// Validate checks all fields of a complete profile
func (p *Profile) Validate() error {
	if p.UserID == "" {
		return goerr.Wrap(ErrInvalidProfileField, "user id is empty", goerr.V("field", "user_id"))
	}
	if p.Age <= 0 {
		return goerr.Wrap(ErrInvalidProfileField, "age must be positive", goerr.V("field", "age"), goerr.V("age", p.Age))
	}
	if err := validatePositive("height_cm", p.HeightCM); err != nil {
		return err
	}
	if err := validatePositive("weight_kg", p.WeightKG); err != nil {
		return err
	}
	if err := p.Goal.Validate(); err != nil {
		return err
	}
	if err := p.Sex.Validate(); err != nil {
		return err
	}
	if err := p.ActivityLevel.Validate(); err != nil {
		return err
	}
	return nil
}

// HasPreference reports whether the profile lists pref (case-insensitive)
func (p *Profile) HasPreference(pref string) bool {
	for _, v := range p.Preferences {
		if strings.EqualFold(v, pref) {
			return true
		}
	}
	return false
}

// ProfileUpdate carries the fields of an upsert request. Nil fields are left unchanged.
type ProfileUpdate struct {
	Age           *int           `json:"age,omitempty"`
	HeightCM      *float64       `json:"height_cm,omitempty"`
	WeightKG      *float64       `json:"weight_kg,omitempty"`
	Goal          *Goal          `json:"goal,omitempty"`
	Sex           *Sex           `json:"sex,omitempty"`
	ActivityLevel *ActivityLevel `json:"activity_level,omitempty"`
	Preferences   []string       `json:"preferences,omitempty"`
}

// IsEmpty reports whether the update changes nothing
func (u *ProfileUpdate) IsEmpty() bool {
	return u.Age == nil && u.HeightCM == nil && u.WeightKG == nil && u.Goal == nil &&
		u.Sex == nil && u.ActivityLevel == nil && u.Preferences == nil
}

// Validate checks the provided fields only
func (u *ProfileUpdate) Validate() error {
	if u.Age != nil && *u.Age <= 0 {
		return goerr.Wrap(ErrInvalidProfileField, "age must be positive", goerr.V("field", "age"), goerr.V("age", *u.Age))
	}
	if u.HeightCM != nil {
		if err := validatePositive("height_cm", *u.HeightCM); err != nil {
			return err
		}
	}
	if u.WeightKG != nil {
		if err := validatePositive("weight_kg", *u.WeightKG); err != nil {
			return err
		}
	}
	if u.Goal != nil {
		if err := u.Goal.Validate(); err != nil {
			return err
		}
	}
	if u.Sex != nil {
		if err := u.Sex.Validate(); err != nil {
			return err
		}
	}
	if u.ActivityLevel != nil {
		if err := u.ActivityLevel.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// NewProfile creates a profile from an update. Age, height, weight and goal are required.
func NewProfile(userID UserID, u ProfileUpdate, now time.Time) (*Profile, error) {
	var missing []string
	if u.Age == nil {
		missing = append(missing, "age")
	}
	if u.HeightCM == nil {
		missing = append(missing, "height_cm")
	}
	if u.WeightKG == nil {
		missing = append(missing, "weight_kg")
	}
	if u.Goal == nil {
		missing = append(missing, "goal")
	}
	if len(missing) > 0 {
		return nil, goerr.Wrap(ErrInvalidProfileField, "required fields are missing on creation",
			goerr.V("field", strings.Join(missing, ",")))
	}

	p := &Profile{
		UserID:        userID,
		Sex:           SexUnspecified,
		ActivityLevel: ActivityLight,
		CreatedAt:     now,
	}
	if err := p.Apply(u, now); err != nil {
		return nil, err
	}
	return p, nil
}

// Apply merges the update into the profile and validates the result
func (p *Profile) Apply(u ProfileUpdate, now time.Time) error {
	if err := u.Validate(); err != nil {
		return err
	}

	if u.Age != nil {
		p.Age = *u.Age
	}
	if u.HeightCM != nil {
		p.HeightCM = *u.HeightCM
	}
	if u.WeightKG != nil {
		p.WeightKG = *u.WeightKG
	}
	if u.Goal != nil {
		p.Goal = *u.Goal
	}
	if u.Sex != nil {
		p.Sex = *u.Sex
	}
	if u.ActivityLevel != nil {
		p.ActivityLevel = *u.ActivityLevel
	}
	if u.Preferences != nil {
		p.Preferences = normalizePreferences(u.Preferences)
	}
	p.UpdatedAt = now

	return p.Validate()
}

// DefaultProfileUpdate is used when a profile is created implicitly on first use
func DefaultProfileUpdate() ProfileUpdate {
	age := 30
	height := 170.0
	weight := 65.0
	goal := GoalMaintain
	return ProfileUpdate{Age: &age, HeightCM: &height, WeightKG: &weight, Goal: &goal}
}

func validatePositive(field string, v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
		return goerr.Wrap(ErrInvalidProfileField, "must be a positive finite number", goerr.V("field", field), goerr.V("value", v))
	}
	return nil
}

// normalizePreferences trims, lower-cases and de-duplicates preferences as a set
func normalizePreferences(prefs []string) []string {
	seen := make(map[string]struct{}, len(prefs))
	out := make([]string, 0, len(prefs))
	for _, p := range prefs {
		p = strings.ToLower(strings.TrimSpace(p))
		if p == "" {
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}
