package parser

import (
	"slices"
	"strings"
)

// FormAnalyzer classifies extracted forms for risk scoring.
type FormAnalyzer struct{}

// NewFormAnalyzer creates a new form analyzer.
func NewFormAnalyzer() *FormAnalyzer {
	return &FormAnalyzer{}
}

// Analysis contains form classification results.
type Analysis struct {
	FormType    FormType
	HasCSRF     bool
	CSRFField   string
	HasPassword bool
	HasFile     bool
	HasHidden   bool
	InputCount  int // inputs excluding hidden fields and buttons
	Complexity  int // 1-10 complexity score
}

// FormType represents the type of form.
type FormType string

const (
	FormTypeLogin    FormType = "login"
	FormTypeSignup   FormType = "signup"
	FormTypeSearch   FormType = "search"
	FormTypePayment  FormType = "payment"
	FormTypeUpload   FormType = "upload"
	FormTypeSettings FormType = "settings"
	FormTypeGeneric  FormType = "generic"
)

var csrfPatterns = []string{
	"csrf",
	"csrftoken",
	"csrfmiddlewaretoken",
	"__requestverificationtoken",
	"authenticity_token",
	"_token",
	"xsrf",
	"antiforgery",
}

// Analyze classifies a form.
func (a *FormAnalyzer) Analyze(form Form) *Analysis {
	types := make(map[string]int)
	for _, input := range form.Inputs {
		types[input.Type]++
	}

	result := &Analysis{
		HasPassword: types["password"] > 0,
		HasFile:     types["file"] > 0,
		HasHidden:   types["hidden"] > 0,
		InputCount:  countInputs(types),
	}
	result.HasCSRF, result.CSRFField = a.detectCSRF(form.Inputs)
	result.FormType = a.detectFormType(form, types)
	result.Complexity = a.calculateComplexity(form, result)

	return result
}

// detectCSRF detects anti-forgery tokens among hidden inputs.
func (a *FormAnalyzer) detectCSRF(inputs []Input) (bool, string) {
	for _, input := range inputs {
		if input.Type != "hidden" {
			continue
		}

		nameLower := strings.ToLower(input.NameString())
		for _, pattern := range csrfPatterns {
			if strings.Contains(nameLower, pattern) {
				return true, input.NameString()
			}
		}
	}

	return false, ""
}

// detectFormType determines the type of form.
func (a *FormAnalyzer) detectFormType(form Form, types map[string]int) FormType {
	names := make([]string, 0, len(form.Inputs))
	for _, input := range form.Inputs {
		names = append(names, strings.ToLower(input.NameString()))
	}

	allNames := strings.Join(names, " ")
	actionLower := strings.ToLower(form.ActionString())
	visible := countInputs(types)

	if types["password"] > 0 && visible <= 4 {
		for _, ind := range []string{"login", "signin", "sign-in", "log-in", "auth"} {
			if strings.Contains(allNames, ind) || strings.Contains(actionLower, ind) {
				return FormTypeLogin
			}
		}
		if strings.Contains(allNames, "password") &&
			(strings.Contains(allNames, "username") || strings.Contains(allNames, "email") || strings.Contains(allNames, "user")) {
			return FormTypeLogin
		}
	}

	if types["password"] > 0 && visible > 3 {
		for _, ind := range []string{"signup", "register", "sign-up", "create", "join"} {
			if strings.Contains(allNames, ind) || strings.Contains(actionLower, ind) {
				return FormTypeSignup
			}
		}
		if strings.Contains(allNames, "confirm") || strings.Contains(allNames, "password2") {
			return FormTypeSignup
		}
	}

	if types["search"] > 0 || strings.Contains(allNames, "search") || strings.Contains(allNames, "query") ||
		slices.Contains(names, "q") {
		return FormTypeSearch
	}

	for _, ind := range []string{"payment", "checkout", "card", "credit", "billing"} {
		if strings.Contains(allNames, ind) || strings.Contains(actionLower, ind) {
			return FormTypePayment
		}
	}

	if types["file"] > 0 {
		return FormTypeUpload
	}

	if strings.Contains(actionLower, "settings") || strings.Contains(actionLower, "profile") ||
		strings.Contains(actionLower, "preferences") {
		return FormTypeSettings
	}

	return FormTypeGeneric
}

// calculateComplexity calculates form complexity score (1-10).
func (a *FormAnalyzer) calculateComplexity(form Form, analysis *Analysis) int {
	score := 1

	inputCount := len(form.Inputs)
	if inputCount > 2 {
		score++
	}
	if inputCount > 5 {
		score++
	}
	if inputCount > 10 {
		score++
	}

	if analysis.HasFile {
		score++
	}
	if analysis.HasPassword {
		score++
	}
	if analysis.HasHidden {
		score++
	}

	if form.Method != "GET" {
		score++
	}

	if score > 10 {
		score = 10
	}

	return score
}

func countInputs(types map[string]int) int {
	total := 0
	for t, count := range types {
		if t != "hidden" && t != "submit" && t != "button" && t != "reset" && t != "image" {
			total += count
		}
	}
	return total
}
