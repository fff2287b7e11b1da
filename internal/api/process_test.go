package api

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/sqlgpt/sqlgpt/internal/deploy"
	"github.com/sqlgpt/sqlgpt/internal/intent"
	"github.com/sqlgpt/sqlgpt/internal/pipeline"
	"github.com/sqlgpt/sqlgpt/internal/sqlgen"
)

var withKey = map[string]string{"OPENAI_API_KEY": "sk-test"}

func TestProcessReturnsPipelineOutcome(t *testing.T) {
	fake := &fakePipeline{out: pipeline.Outcome{
		Intent:     intent.Intent{OperationType: "CREATE_TABLE", Entities: []intent.Entity{{Name: "users"}}},
		SQL:        "CREATE TABLE users (id SERIAL PRIMARY KEY)",
		Validation: sqlgen.Validation{Valid: true, Errors: []string{}, Warnings: []string{}, Suggestions: []string{}},
		Deployment: deploy.Deployment{Text: "BEGIN;\nCREATE TABLE users (id SERIAL PRIMARY KEY)\nCOMMIT;\n", ArchiveKey: "scripts/2026/02/19/x.sql"},
	}}
	h := NewHandler(loadConfig(t, withKey), Dependencies{Pipeline: fake})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/process", strings.NewReader(`{"prompt":"Create a users table"}`)))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body=%s", rr.Code, rr.Body.String())
	}
	body := decodeBody(t, rr)
	if body["success"] != true || body["sql"] != "CREATE TABLE users (id SERIAL PRIMARY KEY)" {
		t.Fatalf("body = %v", body)
	}
	if !strings.Contains(body["deployment_script"].(string), "COMMIT;") || body["archive_key"] != "scripts/2026/02/19/x.sql" {
		t.Fatalf("body = %v", body)
	}
	in := body["intent"].(map[string]any)
	if in["operation_type"] != "CREATE_TABLE" {
		t.Fatalf("intent = %v", in)
	}
	validation := body["validation"].(map[string]any)
	if validation["valid"] != true {
		t.Fatalf("validation = %v", validation)
	}
	if len(fake.prompts) != 1 || fake.prompts[0] != "Create a users table" {
		t.Fatalf("prompts = %v", fake.prompts)
	}
}

func TestProcessRejectsBadInput(t *testing.T) {
	cases := []struct {
		name  string
		body  string
		error string
	}{
		{"empty body", "", "No data received"},
		{"invalid json", "{", "Invalid JSON in request: "},
		{"missing prompt", `{"prompt":"  "}`, "No prompt provided"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fake := &fakePipeline{}
			h := NewHandler(loadConfig(t, withKey), Dependencies{Pipeline: fake})
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/process", strings.NewReader(tc.body)))
			if rr.Code != http.StatusBadRequest {
				t.Fatalf("status = %d", rr.Code)
			}
			body := decodeBody(t, rr)
			if body["success"] != false || !strings.HasPrefix(body["error"].(string), tc.error) {
				t.Fatalf("body = %v", body)
			}
			if len(fake.prompts) != 0 {
				t.Fatal("pipeline should not run")
			}
		})
	}
}

func TestProcessReportsMissingAPIKey(t *testing.T) {
	fake := &fakePipeline{}
	h := NewHandler(loadConfig(t, nil), Dependencies{Pipeline: fake})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/process", strings.NewReader(`{"prompt":"add users"}`)))
	body := decodeBody(t, rr)
	if rr.Code != http.StatusServiceUnavailable || body["error"] != MissingKeyMessage("openai") {
		t.Fatalf("status = %d, body = %v", rr.Code, body)
	}
	if len(fake.prompts) != 0 {
		t.Fatal("pipeline should not run without an API key")
	}
}

func TestProcessReportsFailedStage(t *testing.T) {
	upstream := errors.New("rate limited")
	cases := []struct {
		name       string
		out        pipeline.Outcome
		prefix     string
		wantIntent bool
	}{
		{
			name:   "intent",
			out:    pipeline.Outcome{Stage: pipeline.StageIntent, Err: upstream},
			prefix: "NLP processing error: rate limited",
		},
		{
			name:       "sql",
			out:        pipeline.Outcome{Stage: pipeline.StageSQL, Err: upstream, Intent: intent.Intent{OperationType: "SELECT"}},
			prefix:     "SQL generation error: rate limited",
			wantIntent: true,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := NewHandler(loadConfig(t, withKey), Dependencies{Pipeline: &fakePipeline{out: tc.out}})
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/process", strings.NewReader(`{"prompt":"list users"}`)))
			if rr.Code != http.StatusBadGateway {
				t.Fatalf("status = %d", rr.Code)
			}
			body := decodeBody(t, rr)
			if body["error"] != tc.prefix {
				t.Fatalf("error = %v", body["error"])
			}
			if _, ok := body["intent"]; ok != tc.wantIntent {
				t.Fatalf("body = %v", body)
			}
		})
	}
}

func TestRefine(t *testing.T) {
	refiner := &fakeRefiner{refined: intent.Intent{OperationType: "ALTER_TABLE"}}
	h := NewHandler(loadConfig(t, withKey), Dependencies{Refiner: refiner})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/refine",
		strings.NewReader(`{"intent":{"operation_type":"CREATE_TABLE"},"feedback":"the table already exists"}`)))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body=%s", rr.Code, rr.Body.String())
	}
	body := decodeBody(t, rr)
	if body["intent"].(map[string]any)["operation_type"] != "ALTER_TABLE" {
		t.Fatalf("body = %v", body)
	}
	if refiner.feedback != "the table already exists" {
		t.Fatalf("feedback = %q", refiner.feedback)
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/refine", strings.NewReader(`{"intent":{}}`)))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rr.Code)
	}

	refiner.err = errors.New("bad reply")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/refine", strings.NewReader(`{"intent":{},"feedback":"x"}`)))
	if rr.Code != http.StatusBadGateway {
		t.Fatalf("status = %d", rr.Code)
	}
}
