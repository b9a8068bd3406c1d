package normalize

import "testing"

func TestName(t *testing.T) {
	cases := map[string]string{
		"Flask":             "flask",
		"typing_extensions": "typing-extensions",
		"zope.interface":    "zope-interface",
		"A..B--C__D":        "a-b-c-d",
		"":                  "",
	}

	for in, want := range cases {
		if got := Name(in); got != want {
			t.Errorf("Name(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestEqual(t *testing.T) {
	if !Equal("Flask-SQLAlchemy", "flask_sqlalchemy") {
		t.Error("expected names to be equal after normalization")
	}

	if Equal("flask", "django") {
		t.Error("expected distinct names to differ")
	}
}
