package scope

// Rules holds the optional link filters applied after the same-domain check.
type Rules struct {
	ExcludePatterns []string `json:"exclude_patterns" yaml:"exclude_patterns"`
}

// DestructivePatterns match links that commonly change session or account
// state when followed.
var DestructivePatterns = []string{
	`.*[?&]logout.*`,
	`.*[?&]signout.*`,
	`.*\/logout.*`,
	`.*\/signout.*`,
	`.*\/delete-account.*`,
	`.*\/unsubscribe.*`,
}
