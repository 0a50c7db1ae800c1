package model

// ToolName identifies a capability of the tool set. The set is fixed at build time.
type ToolName string

const (
	ToolFoodLookup     ToolName = "food_lookup"
	ToolDietAdvice     ToolName = "diet_advice"
	ToolNutritionQA    ToolName = "nutrition_qa"
	ToolCategorySearch ToolName = "category_search"
	ToolUpdateProfile  ToolName = "update_profile"
)

// ToolInvocation is a validated routing decision for one tool
type ToolInvocation struct {
	Name ToolName       `json:"name"`
	Args map[string]any `json:"args"`
}

type ToolStatus string

const (
	ToolStatusOK          ToolStatus = "ok"
	ToolStatusSoftFailure ToolStatus = "soft_failure"
	ToolStatusError       ToolStatus = "error"
)

// ToolResult is the structured outcome of a tool execution, folded into synthesis
type ToolResult struct {
	Name      ToolName       `json:"name"`
	Args      map[string]any `json:"args,omitempty"`
	Status    ToolStatus     `json:"status"`
	ErrorCode string         `json:"error_code,omitempty"`
	Message   string         `json:"message,omitempty"`
	Data      any            `json:"data,omitempty"`
}

// RoutingFailure records an invocation dropped during routing
type RoutingFailure struct {
	Name   string         `json:"name"`
	Args   map[string]any `json:"args,omitempty"`
	Reason string         `json:"reason"`
}
