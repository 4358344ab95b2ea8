package lintsensor

import (
	"testing"
	"time"

	"github.com/pressurefield/kernel/internal/region"
)

func TestCountSeverities_BucketsKnownSeverities(t *testing.T) {
	output := []byte(
		"script.sh:1:2: error: unquoted variable\n" +
			"script.sh:3:4: warning: useless cat\n" +
			"script.sh:5:6: info: prefer $() over backticks\n" +
			"script.sh:7:8: note: see style guide\n" +
			"script.sh:9:10: style: use lower_snake_case\n" +
			"this line matches nothing\n",
	)

	got := countSeverities(output)
	want := region.Signals{
		"error_count":   1,
		"warning_count": 1,
		"info_count":    2, // info and note both bucket into info_count
		"style_count":   1,
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("%s: expected %f, got %f", k, v, got[k])
		}
	}
}

func TestCountSeverities_NoMatchesYieldsZeroedSignals(t *testing.T) {
	got := countSeverities([]byte("nothing to see here\n"))
	for _, k := range []string{"error_count", "warning_count", "info_count", "style_count"} {
		if got[k] != 0 {
			t.Errorf("expected %s to be 0, got %f", k, got[k])
		}
	}
}

func TestSensor_Measure_NoCommandConfiguredIsAnError(t *testing.T) {
	s := New(nil, time.Second)
	if _, err := s.Measure(region.View{Content: []byte("x")}); err == nil {
		t.Fatal("expected an error when no command is configured")
	}
}

func TestSensor_Measure_RunsCommandAndParsesOutput(t *testing.T) {
	// A stand-in for a real linter: echoes a fixed gcc-style line regardless
	// of stdin, so the test doesn't depend on any linter being installed.
	s := New([]string{"/bin/sh", "-c", "echo 'region:1:1: warning: stub finding'"}, 2*time.Second)

	signals, err := s.Measure(region.View{Content: []byte("irrelevant")})
	if err != nil {
		t.Fatalf("Measure: %v", err)
	}
	if signals["warning_count"] != 1 {
		t.Fatalf("expected warning_count 1, got %f", signals["warning_count"])
	}
}

func TestSensor_Measure_NonzeroExitIsNotAnError(t *testing.T) {
	// Lint subprocess convention: a nonzero exit status means "issues
	// found", not "failed to run".
	s := New([]string{"/bin/sh", "-c", "echo 'region:1:1: error: stub'; exit 1"}, 2*time.Second)

	signals, err := s.Measure(region.View{Content: []byte("x")})
	if err != nil {
		t.Fatalf("expected a nonzero exit status to not be treated as an error, got: %v", err)
	}
	if signals["error_count"] != 1 {
		t.Fatalf("expected error_count 1, got %f", signals["error_count"])
	}
}

func TestSensor_Measure_TimesOut(t *testing.T) {
	s := New([]string{"/bin/sh", "-c", "sleep 5"}, 50*time.Millisecond)

	if _, err := s.Measure(region.View{Content: []byte("x")}); err == nil {
		t.Fatal("expected a timeout error for a command that outlives its deadline")
	}
}
