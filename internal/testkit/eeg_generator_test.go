package testkit

import (
	"reflect"
	"testing"
)

func TestEEGGenerator_Basic(t *testing.T) {
	config := DefaultEEGConfig()
	ep, err := NewEEGGenerator(config).GenerateEpochs()
	if err != nil {
		t.Fatalf("Failed to generate epochs: %v", err)
	}

	wantRows := config.Subjects * config.Items * len(config.Times)
	if ep.Frame.Len() != wantRows {
		t.Errorf("Expected %d rows, got %d", wantRows, ep.Frame.Len())
	}
	if len(ep.EpochIDs()) != config.Subjects*config.Items {
		t.Errorf("Expected %d epochs, got %d", config.Subjects*config.Items, len(ep.EpochIDs()))
	}
	if !reflect.DeepEqual(ep.Times(), config.Times) {
		t.Errorf("Expected times %v, got %v", config.Times, ep.Times())
	}
	if ep.Frame.IsNumeric(ColCondition) {
		t.Error("Expected condition to be categorical")
	}
}

func TestEEGGenerator_Deterministic(t *testing.T) {
	a, err := NewEEGGenerator(DefaultEEGConfig()).GenerateFrame()
	if err != nil {
		t.Fatal(err)
	}
	b, err := NewEEGGenerator(DefaultEEGConfig()).GenerateFrame()
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(a.Rows, b.Rows) {
		t.Error("Expected equal seeds to produce identical frames")
	}
}

func TestEEGGenerator_SubjectInvariant(t *testing.T) {
	config := DefaultEEGConfig()
	config.SubjectInvariant = true
	frame, err := NewEEGGenerator(config).GenerateFrame()
	if err != nil {
		t.Fatal(err)
	}

	perSubject := config.Items * len(config.Times)
	for r := 0; r < perSubject; r++ {
		for _, ch := range config.Channels {
			if frame.String(r, ch) != frame.String(r+perSubject, ch) {
				t.Fatalf("Row %d channel %s differs between subjects", r, ch)
			}
		}
	}
}

func TestEEGGenerator_RejectsTinyConfig(t *testing.T) {
	config := DefaultEEGConfig()
	config.Items = 1
	if _, err := NewEEGGenerator(config).GenerateFrame(); err == nil {
		t.Error("Expected an error for a single item")
	}
}
