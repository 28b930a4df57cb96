package page

import (
	"bytes"
	"flag"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

var update = flag.Bool("update", false, "rewrite golden files")

func TestRender_Golden(t *testing.T) {
	var buf bytes.Buffer
	err := Render(&buf, Instructions{
		TargetURL:   "https://abc.ngrok.app/chat?x=1",
		HeaderName:  "agent-address",
		HeaderValue: "0xabc123",
	})
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}

	golden := filepath.Join("testdata", "instructions.golden")
	if *update {
		if err := os.WriteFile(golden, buf.Bytes(), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	want, err := os.ReadFile(golden)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(buf.Bytes(), want) {
		t.Errorf("Render() output differs from %s\ngot:\n%s", golden, buf.String())
	}
}

func TestRender_Deterministic(t *testing.T) {
	data := Instructions{TargetURL: "https://b.example/", HeaderName: "agent-address", HeaderValue: "0x1"}
	var a, b bytes.Buffer
	if err := Render(&a, data); err != nil {
		t.Fatal(err)
	}
	if err := Render(&b, data); err != nil {
		t.Fatal(err)
	}
	if a.String() != b.String() {
		t.Error("Render() is not deterministic")
	}
}

func TestRender_EscapesValues(t *testing.T) {
	var buf bytes.Buffer
	err := Render(&buf, Instructions{
		TargetURL:   "https://b.example/<script>",
		HeaderName:  "agent-address",
		HeaderValue: "<b>x</b>",
	})
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	out := buf.String()
	if strings.Contains(out, "<script>") || strings.Contains(out, "<b>x</b>") {
		t.Errorf("Render() did not escape values:\n%s", out)
	}
	if !strings.Contains(out, "&lt;b&gt;x&lt;/b&gt;") {
		t.Error("escaped header value missing")
	}
}

func TestRender_Content(t *testing.T) {
	var buf bytes.Buffer
	if err := Render(&buf, Instructions{TargetURL: "https://b.example/path", HeaderName: "x-agent", HeaderValue: "0xdef"}); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{
		"Agent Instructions",
		"POST",
		"https://b.example/path",
		`{"message": "Your message here"}`,
		"x-agent: 0xdef",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("page missing %q", want)
		}
	}
}
