package manager

import "testing"

func TestExtractJSON(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{`{"a":1}`, `{"a":1}`},
		{"```json\n[1, 2, 3]\n```", `[1, 2, 3]`},
		{`Here you go: {"text": "a } inside", "n": {"m": [1]}} thanks`, `{"text": "a } inside", "n": {"m": [1]}}`},
		{`{"escaped": "quote \" and brace {"}`, `{"escaped": "quote \" and brace {"}`},
		{`{"list": [1, 2,], }`, `{"list": [1, 2] }`},
		{`{not json} then {"ok": true}`, `{"ok": true}`},
		{`{"keep": "a, ]"}`, `{"keep": "a, ]"}`},
	}
	for _, tc := range cases {
		got, err := ExtractJSON(tc.in)
		if err != nil {
			t.Fatalf("%q: %v", tc.in, err)
		}
		if got != tc.want {
			t.Fatalf("%q: got %q want %q", tc.in, got, tc.want)
		}
	}
}

func TestExtractJSONFails(t *testing.T) {
	for _, in := range []string{"", "no json here", `{"open": [1, 2`, `]{`} {
		if _, err := ExtractJSON(in); !IsInvalidResponse(err) {
			t.Fatalf("%q: expected InvalidResponse, got %v", in, err)
		}
	}
}
