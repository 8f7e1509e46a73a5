package generator

import (
	"testing"
)

func TestDecode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		text       string
		wantStatus Status
		wantKey    string
	}{
		{"clean json", `{"feedback":"よくできました"}`, Parsed, "feedback"},
		{"fenced json", "```json\n{\"feedback\":\"ok\"}\n```", Parsed, "feedback"},
		{"bare fence", "```\n{\"feedback\":\"ok\"}\n```", Parsed, "feedback"},
		{"embedded", `Here is the turn: {"agent":{"script":"はい"}} hope it helps`, Parsed, "agent"},
		{"brace in string", `note: {"feedback":"use } carefully","score":{}} trailing {`, Parsed, "score"},
		{"escaped quote in string", `x {"feedback":"say \"}\" please"} y`, Parsed, "feedback"},
		{"unbalanced first brace", `{ oops {"feedback":"ok"}`, Parsed, "feedback"},
		{"balanced but invalid", `{not json} and more`, Malformed, ""},
		{"garbage", "I cannot help with that.", Malformed, ""},
		{"json array", `["not","an","object"]`, Malformed, ""},
		{"null", `null`, Malformed, ""},
		{"empty", "", Malformed, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			d := Decode(tt.text, nil)
			if d.Status != tt.wantStatus {
				t.Fatalf("Status = %v, want %v", d.Status, tt.wantStatus)
			}
			if d.Object == nil {
				t.Fatal("Object must never be nil")
			}
			if tt.wantStatus == Malformed && len(d.Object) != 0 {
				t.Errorf("malformed decode should yield empty object, got %v", d.Object)
			}
			if tt.wantKey != "" {
				if _, ok := d.Object[tt.wantKey]; !ok {
					t.Errorf("Object missing key %q: %v", tt.wantKey, d.Object)
				}
			}
		})
	}
}

func TestFirstObject(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in    string
		want  string
		found bool
	}{
		{`a {"x":1} b {"y":2}`, `{"x":1}`, true},
		{`{"x":{"y":{}}}`, `{"x":{"y":{}}}`, true},
		{`{"x":"{"}`, `{"x":"{"}`, true},
		{`no braces`, "", false},
		{`{ never closed`, "", false},
	}
	for _, tt := range tests {
		got, found := firstObject(tt.in)
		if found != tt.found || got != tt.want {
			t.Errorf("firstObject(%q) = %q, %v; want %q, %v", tt.in, got, found, tt.want, tt.found)
		}
	}
}

func TestDecode_SchemaAdvisory(t *testing.T) {
	t.Parallel()

	schema, err := TurnSchema()
	if err != nil {
		t.Fatalf("TurnSchema: %v", err)
	}

	valid := `{
		"user":{"script":"だいじょうぶですか","romanization":"daijoubu desu ka","translation":"Apakah Anda baik-baik saja?"},
		"agent":{"script":"はい","romanization":"hai","translation":"Ya"},
		"suggested":{"script":"よかったです","romanization":"yokatta desu","translation":"Syukurlah"},
		"feedback":"よくできました",
		"annotations":[],
		"score":{"politeness":4,"clarity":5,"comment":"good"}
	}`
	if d := Decode(valid, schema); d.Status != Parsed || d.SchemaErr != nil {
		t.Fatalf("valid turn: status=%v schemaErr=%v", d.Status, d.SchemaErr)
	}

	partial := `{"agent":{"script":"はい"}}`
	d := Decode(partial, schema)
	if d.Status != Parsed {
		t.Fatalf("partial turn should still parse, got %v", d.Status)
	}
	if d.SchemaErr == nil {
		t.Error("partial turn should report a schema error")
	}
}
