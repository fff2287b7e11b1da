package api

import (
	"context"
	"strings"

	"github.com/sqlgpt/sqlgpt/internal/browser"
	"github.com/sqlgpt/sqlgpt/internal/executor"
	"github.com/sqlgpt/sqlgpt/internal/intent"
	"github.com/sqlgpt/sqlgpt/internal/pipeline"
)

type fakePipeline struct {
	out     pipeline.Outcome
	prompts []string
}

func (f *fakePipeline) Process(_ context.Context, prompt string) pipeline.Outcome {
	f.prompts = append(f.prompts, prompt)
	out := f.out
	out.Prompt = prompt
	return out
}

type fakeRefiner struct {
	refined  intent.Intent
	err      error
	feedback string
}

func (f *fakeRefiner) Refine(_ context.Context, in intent.Intent, feedback string) (intent.Intent, error) {
	f.feedback = feedback
	if f.err != nil {
		return intent.Intent{}, f.err
	}
	return f.refined, nil
}

type fakeExecutor struct {
	result     executor.Result
	schema     executor.SchemaInfo
	version    string
	err        error
	statements []string
}

func (f *fakeExecutor) Execute(_ context.Context, statement string, _ ...any) executor.Result {
	f.statements = append(f.statements, statement)
	if f.result.Kind == "" {
		return executor.Result{Kind: executor.KindOK, Message: "Query executed successfully. Rows affected: 0"}
	}
	return f.result
}

func (f *fakeExecutor) TestConnection(context.Context) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return "Connected to PostgreSQL: " + f.version, nil
}

func (f *fakeExecutor) SchemaInfo(context.Context) (executor.SchemaInfo, error) {
	return f.schema, f.err
}

type fakeBrowser struct {
	page     browser.TablePage
	count    int64
	export   browser.ExportResult
	err      error
	requests []browser.TableDataRequest
}

func (f *fakeBrowser) Schemas(context.Context) ([]string, error) {
	return []string{"public"}, f.err
}

func (f *fakeBrowser) Tables(context.Context) ([]browser.Table, error) {
	return []browser.Table{{Name: "users", Schema: "public", ColumnCount: 3}}, f.err
}

func (f *fakeBrowser) TableStructure(_ context.Context, schema, table string) ([]browser.Column, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []browser.Column{{ColumnName: "id", DataType: "integer", IsNullable: "NO", IsPrimaryKey: true}}, nil
}

func (f *fakeBrowser) TableData(_ context.Context, req browser.TableDataRequest) (browser.TablePage, error) {
	f.requests = append(f.requests, req)
	if f.err != nil {
		return browser.TablePage{}, f.err
	}
	page := f.page
	if page.Limit == 0 {
		page.Limit = req.Limit
	}
	page.Offset = req.Offset
	return page, nil
}

func (f *fakeBrowser) TableCount(context.Context, string, string) (int64, error) {
	return f.count, nil
}

func (f *fakeBrowser) Export(_ context.Context, schema, table string) (browser.ExportResult, error) {
	if f.err != nil {
		return browser.ExportResult{}, f.err
	}
	result := f.export
	if result.Key == "" {
		result.Key = "exports/" + schema + "/" + strings.ToLower(table) + "/snapshot.parquet"
	}
	return result, nil
}
