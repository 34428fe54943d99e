package scope

import (
	"net/url"
	"testing"
)

// =============================================================================
// Normalize Tests
// =============================================================================

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"fragment removed", "http://a.com/x#y", "http://a.com/x"},
		{"whitespace trimmed", "  http://a.com/x \t", "http://a.com/x"},
		{"space before fragment", "http://a.com/x #top", "http://a.com/x"},
		{"repeated slashes collapsed", "http://a.com//x///y", "http://a.com/x/y"},
		{"trailing slash stripped", "http://a.com/x/", "http://a.com/x"},
		{"root slash stripped", "https://a.com/", "https://a.com"},
		{"bare host untouched", "https://a.com", "https://a.com"},
		{"bare scheme untouched", "http://", "http://"},
		{"query slashes collapsed", "http://a.com/p?next=//b", "http://a.com/p?next=/b"},
		{"case preserved", "HTTP://A.com/X", "HTTP://A.com/X"},
		{"no scheme keeps slashes", "/a//b/", "/a//b/"},
		{"plain token", "a", "a"},
		{"only fragment", "#section", ""},
		{"empty", "", ""},
		{"whitespace only", "   ", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Normalize(tt.raw); got != tt.want {
				t.Errorf("Normalize(%q) = %q, want %q", tt.raw, got, tt.want)
			}
		})
	}
}

func TestNormalize_Idempotent(t *testing.T) {
	inputs := []string{
		"http://a.com/x#y",
		"http://a.com//",
		"http://a.com/x//",
		"x:////y",
		"http:///",
		" http://a.com/a/ #b ",
		"https://a.com/?q=1#",
		"mailto:someone@example.com",
		"/relative//path/",
		"http://a.com/x /",
		"http://a.com/x\t/",
		"http://a.com/x/ /",
		"http:// /",
		"",
	}

	for _, in := range inputs {
		once := Normalize(in)
		if twice := Normalize(once); twice != once {
			t.Errorf("Normalize(Normalize(%q)) = %q, want %q", in, twice, once)
		}
	}
}

func TestNormalize_WhitespaceBeforeTrailingSlash(t *testing.T) {
	tests := map[string]string{
		"http://a.com/x /":  "http://a.com/x",
		"http://a.com/x\t/": "http://a.com/x",
		"http://a.com/x/ /": "http://a.com/x",
		"http://a.com/ /":   "http://a.com",
	}
	for in, want := range tests {
		if got := Normalize(in); got != want {
			t.Errorf("Normalize(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNormalize_FragmentEquivalence(t *testing.T) {
	if Normalize("http://a.com/x#y") != Normalize("http://a.com/x") {
		t.Error("fragment should not affect the normalized endpoint")
	}
}

func TestStringify(t *testing.T) {
	tests := []struct {
		in   any
		want string
	}{
		{nil, ""},
		{"http://a.com", "http://a.com"},
		{42, "42"},
		{3.5, "3.5"},
		{true, "true"},
	}

	for _, tt := range tests {
		if got := Stringify(tt.in); got != tt.want {
			t.Errorf("Stringify(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

// =============================================================================
// Checker Tests
// =============================================================================

func TestNewChecker(t *testing.T) {
	tests := []struct {
		name       string
		requestURL string
		rules      Rules
		wantHost   string
		wantErr    bool
	}{
		{"valid URL", "https://Example.com/app", Rules{}, "example.com", false},
		{"port dropped", "http://example.com:8080/", Rules{}, "example.com", false},
		{"invalid URL", "://invalid", Rules{}, "", true},
		{"invalid exclude pattern", "https://example.com", Rules{ExcludePatterns: []string{`[invalid`}}, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checker, err := NewChecker(tt.requestURL, tt.rules)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewChecker() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && checker.Host() != tt.wantHost {
				t.Errorf("Host() = %q, want %q", checker.Host(), tt.wantHost)
			}
		})
	}
}

func TestChecker_SameDomain(t *testing.T) {
	checker, err := NewChecker("https://example.com/", Rules{})
	if err != nil {
		t.Fatalf("NewChecker() error = %v", err)
	}

	tests := []struct {
		host string
		want bool
	}{
		{"example.com", true},
		{"EXAMPLE.com", true},
		{"sub.example.com", true},
		{"a.b.example.com", true},
		{"notexample.com", false},
		{"example.com.evil.net", false},
		{"other.com", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.host, func(t *testing.T) {
			if got := checker.SameDomain(tt.host); got != tt.want {
				t.Errorf("SameDomain(%q) = %v, want %v", tt.host, got, tt.want)
			}
		})
	}
}

func TestChecker_EmptyHostMatchesNothing(t *testing.T) {
	checker, err := NewChecker("http:///path", Rules{})
	if err != nil {
		t.Fatalf("NewChecker() error = %v", err)
	}
	if checker.SameDomain("example.com") {
		t.Error("empty request host should match nothing")
	}
}

func TestChecker_Allows(t *testing.T) {
	checker, err := NewChecker("https://example.com", Rules{ExcludePatterns: DestructivePatterns})
	if err != nil {
		t.Fatalf("NewChecker() error = %v", err)
	}

	tests := []struct {
		link string
		want bool
	}{
		{"https://example.com/page", true},
		{"http://sub.example.com/p", true},
		{"https://notexample.com/p", false},
		{"ftp://example.com/file", false},
		{"mailto:user@example.com", false},
		{"javascript:void(0)", false},
		{"https://example.com/logout", false},
		{"https://example.com/account?logout=1", false},
	}

	for _, tt := range tests {
		t.Run(tt.link, func(t *testing.T) {
			u, err := url.Parse(tt.link)
			if err != nil {
				t.Fatalf("url.Parse(%q) error = %v", tt.link, err)
			}
			if got := checker.Allows(u); got != tt.want {
				t.Errorf("Allows(%q) = %v, want %v", tt.link, got, tt.want)
			}
		})
	}
}

// =============================================================================
// URL Helper Tests
// =============================================================================

func TestResolveURL(t *testing.T) {
	base, _ := url.Parse("https://example.com/dir/page")

	tests := []struct {
		ref  string
		want string
	}{
		{"/login", "https://example.com/login"},
		{"other", "https://example.com/dir/other"},
		{"../up", "https://example.com/up"},
		{"//cdn.example.com/x", "https://cdn.example.com/x"},
		{"https://other.com/", "https://other.com/"},
	}

	for _, tt := range tests {
		got, err := ResolveURL(base, tt.ref)
		if err != nil {
			t.Errorf("ResolveURL(%q) error = %v", tt.ref, err)
			continue
		}
		if got.String() != tt.want {
			t.Errorf("ResolveURL(%q) = %q, want %q", tt.ref, got.String(), tt.want)
		}
	}
}

func TestOrigin(t *testing.T) {
	u, _ := url.Parse("https://example.com:8443/a/b?c=d#e")
	if got := Origin(u).String(); got != "https://example.com:8443" {
		t.Errorf("Origin() = %q, want https://example.com:8443", got)
	}

	resolved, err := ResolveURL(Origin(u), "submit.php")
	if err != nil {
		t.Fatalf("ResolveURL() error = %v", err)
	}
	if resolved.String() != "https://example.com:8443/submit.php" {
		t.Errorf("resolved = %q, want https://example.com:8443/submit.php", resolved.String())
	}
}

func TestIsFetchable(t *testing.T) {
	tests := []struct {
		raw  string
		want bool
	}{
		{"http://a.com", true},
		{"https://a.com", true},
		{"ftp://a.com", false},
		{"HTTP://a.com", false},
		{"a.com", false},
		{"", false},
	}

	for _, tt := range tests {
		if got := IsFetchable(tt.raw); got != tt.want {
			t.Errorf("IsFetchable(%q) = %v, want %v", tt.raw, got, tt.want)
		}
	}
}
