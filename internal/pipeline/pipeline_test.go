package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/sqlgpt/sqlgpt/internal/deploy"
	"github.com/sqlgpt/sqlgpt/internal/intent"
	"github.com/sqlgpt/sqlgpt/internal/llm"
	"github.com/sqlgpt/sqlgpt/internal/sqlgen"
)

type stagedCompleter struct {
	replies map[string]string
	errs    map[string]error
	calls   []string
}

func (s *stagedCompleter) Complete(_ context.Context, req llm.Request) (string, error) {
	s.calls = append(s.calls, req.Stage)
	if err := s.errs[req.Stage]; err != nil {
		return "", err
	}
	return s.replies[req.Stage], nil
}

func newTestPipeline(completer llm.Completer) *Pipeline {
	now := func() time.Time { return time.Date(2026, time.February, 19, 12, 30, 45, 0, time.UTC) }
	return New(
		intent.NewTranslator(completer, nil),
		sqlgen.NewGenerator(completer, nil),
		deploy.NewBuilder(completer, nil, deploy.WithClock(now)),
		nil,
	)
}

func usersReplies() map[string]string {
	return map[string]string{
		llm.StageIntent:   `{"operation_type": "CREATE_TABLE", "entities": [{"name": "users"}]}`,
		llm.StageSQL:      "CREATE TABLE users (id SERIAL PRIMARY KEY, name TEXT, email TEXT UNIQUE, registered_at TIMESTAMP)",
		llm.StageValidate: `{"valid": true}`,
		llm.StageRollback: "DROP TABLE users;",
	}
}

func TestProcessCreateUsersTable(t *testing.T) {
	completer := &stagedCompleter{replies: usersReplies()}
	p := newTestPipeline(completer)

	out := p.Process(context.Background(), "Create a users table with id, name, email, and registration date")
	if out.Failed() {
		t.Fatalf("Process() failed at %s: %v", out.Stage, out.Err)
	}
	if out.Intent.OperationType != "CREATE_TABLE" || !out.Validation.Valid {
		t.Fatalf("outcome = %+v", out)
	}
	script := out.Deployment.Text
	for _, want := range []string{"BEGIN;", "COMMIT;", "CREATE TABLE users", "DROP TABLE users;"} {
		if !strings.Contains(script, want) {
			t.Fatalf("script missing %q:\n%s", want, script)
		}
	}
	want := []string{llm.StageIntent, llm.StageSQL, llm.StageValidate, llm.StageRollback}
	if strings.Join(completer.calls, ",") != strings.Join(want, ",") {
		t.Fatalf("calls = %v", completer.calls)
	}
}

func TestProcessReportsFailingStage(t *testing.T) {
	upstream := errors.New("upstream unavailable")
	cases := []struct {
		name      string
		prompt    string
		errs      map[string]error
		stage     Stage
		hasIntent bool
	}{
		{"empty prompt", "  ", nil, StageInput, false},
		{"intent", "add a users table", map[string]error{llm.StageIntent: upstream}, StageIntent, false},
		{"sql", "add a users table", map[string]error{llm.StageSQL: upstream}, StageSQL, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			completer := &stagedCompleter{replies: usersReplies(), errs: tc.errs}
			out := newTestPipeline(completer).Process(context.Background(), tc.prompt)
			if !out.Failed() || out.Stage != tc.stage {
				t.Fatalf("outcome = %+v", out)
			}
			if out.HasIntent() != tc.hasIntent {
				t.Fatalf("HasIntent() = %v", out.HasIntent())
			}
			if tc.hasIntent && out.Intent.OperationType != "CREATE_TABLE" {
				t.Fatalf("intent = %+v", out.Intent)
			}
		})
	}
}

func TestProcessKeepsGoingWhenValidationFails(t *testing.T) {
	completer := &stagedCompleter{
		replies: usersReplies(),
		errs:    map[string]error{llm.StageValidate: errors.New("timeout")},
	}
	out := newTestPipeline(completer).Process(context.Background(), "add a users table")
	if out.Failed() {
		t.Fatalf("Process() error = %v", out.Err)
	}
	if out.Validation.Valid || len(out.Validation.Errors) != 1 {
		t.Fatalf("validation = %+v", out.Validation)
	}
	if out.Deployment.Text == "" {
		t.Fatal("expected a deployment script")
	}
}

func TestGenerateSkipsValidationAndScript(t *testing.T) {
	completer := &stagedCompleter{replies: usersReplies()}
	out := newTestPipeline(completer).Generate(context.Background(), "add a users table")
	if out.Failed() || out.SQL == "" || out.Deployment.Text != "" {
		t.Fatalf("outcome = %+v", out)
	}
	if len(completer.calls) != 2 {
		t.Fatalf("calls = %v", completer.calls)
	}
}

type failingBuilder struct{ err error }

func (f failingBuilder) CreateScript(context.Context, string, intent.Intent) (deploy.Deployment, error) {
	return deploy.Deployment{}, f.err
}

func TestProcessReplacesFailedScriptWithNote(t *testing.T) {
	completer := &stagedCompleter{replies: usersReplies()}
	p := New(
		intent.NewTranslator(completer, nil),
		sqlgen.NewGenerator(completer, nil),
		failingBuilder{err: errors.New("disk full")},
		nil,
	)
	out := p.Process(context.Background(), "add a users table")
	if out.Failed() {
		t.Fatalf("Process() error = %v", out.Err)
	}
	if out.Deployment.Text != "-- Error generating deployment script: disk full" {
		t.Fatalf("script = %q", out.Deployment.Text)
	}
}
