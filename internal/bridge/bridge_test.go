package bridge

import "testing"

func TestParseResize(t *testing.T) {
	cases := []struct {
		name      string
		frame     string
		wantOK    bool
		wantCols  int
		wantRows  int
	}{
		{"valid", `{"type":"resize","cols":120,"rows":40}`, true, 120, 40},
		{"wrong type", `{"type":"ping","cols":120,"rows":40}`, false, 0, 0},
		{"zero dims", `{"type":"resize","cols":0,"rows":40}`, false, 0, 0},
		{"not json", "hello world", false, 0, 0},
		{"json but not object-looking prefix", "[1,2,3]", false, 0, 0},
		{"malformed json starting with brace", "{not json", false, 0, 0},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			cols, rows, ok := parseResize([]byte(c.frame))
			if ok != c.wantOK || cols != c.wantCols || rows != c.wantRows {
				t.Fatalf("parseResize(%q) = (%d, %d, %v), want (%d, %d, %v)",
					c.frame, cols, rows, ok, c.wantCols, c.wantRows, c.wantOK)
			}
		})
	}
}
