package runner

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/abdul-hamid-achik/aidb-smoke/packages/capture"
	"github.com/abdul-hamid-achik/aidb-smoke/packages/validate"
	"github.com/tidwall/gjson"
)

// Step names, in execution order
const (
	StepCreateDataSource = "create_data_source"
	StepIntrospect       = "introspect"
	StepCreateSession    = "create_session"
	StepRunSession       = "run_session"
	StepExportCSV        = "export_csv"
	StepExportJSON       = "export_json"
)

type step struct {
	name     string
	title    string
	tolerate bool
	run      func(ctx context.Context, st *StepResult) error
}

func (e *execution) steps() []step {
	return []step{
		{name: StepCreateDataSource, title: "Create data source", run: e.createDataSource},
		{name: StepIntrospect, title: "Introspect schema", run: e.introspect},
		{name: StepCreateSession, title: "Create query session", run: e.createSession},
		{name: StepRunSession, title: "Run query session", tolerate: true, run: e.runSession},
		{name: StepExportCSV, title: "Export CSV", run: e.exportCSV},
		{name: StepExportJSON, title: "Export JSON", run: e.exportJSON},
	}
}

// PlannedStep describes a step before anything is sent
type PlannedStep struct {
	Name      string
	Title     string
	Method    string
	Path      string
	Body      string
	Tolerated bool
}

// Plan lists the scenario in execution order. Paths carry {id} and
// {session_id} placeholders for the identifiers captured at run time.
func Plan() []PlannedStep {
	const id, sid = "{id}", "{session_id}"
	requests := map[string][2]string{
		StepCreateDataSource: {DataSourcePath, `{"name","db_type","connection_ref"}`},
		StepIntrospect:       {DataSourcePath + "/" + id + "/introspect", ""},
		StepCreateSession:    {SessionPath, `{"data_source_id","question"}`},
		StepRunSession:       {SessionPath + "/" + sid + "/run", `{"max_rows"}`},
		StepExportCSV:        {SessionPath + "/" + sid + "/export", `{"format":"csv"}`},
		StepExportJSON:       {SessionPath + "/" + sid + "/export", `{"format":"json"}`},
	}

	var e execution
	var plan []PlannedStep
	for _, s := range e.steps() {
		req := requests[s.name]
		plan = append(plan, PlannedStep{
			Name:      s.name,
			Title:     s.title,
			Method:    "POST",
			Path:      req[0],
			Body:      req[1],
			Tolerated: s.tolerate,
		})
	}
	return plan
}

type createDataSourceBody struct {
	Name          string `json:"name"`
	DBType        string `json:"db_type"`
	ConnectionRef string `json:"connection_ref"`
}

type createSessionBody struct {
	DataSourceID string `json:"data_source_id"`
	Question     string `json:"question"`
}

type runSessionBody struct {
	MaxRows     int    `json:"max_rows"`
	TimeoutMs   int    `json:"timeout_ms,omitempty"`
	LLMProvider string `json:"llm_provider,omitempty"`
	Model       string `json:"model,omitempty"`
}

type exportBody struct {
	Format string `json:"format"`
}

// DataSourcePath is the collection path for data sources
const DataSourcePath = "/v1/data-sources"

// SessionPath is the collection path for query sessions
const SessionPath = "/v1/query/sessions"

// IntrospectPath returns the introspection endpoint for a data source
func IntrospectPath(id string) string {
	return DataSourcePath + "/" + url.PathEscape(id) + "/introspect"
}

// RunPath returns the run endpoint for a session
func RunPath(sid string) string {
	return SessionPath + "/" + url.PathEscape(sid) + "/run"
}

// ExportPath returns the export endpoint for a session
func ExportPath(sid string) string {
	return SessionPath + "/" + url.PathEscape(sid) + "/export"
}

// call issues a request on behalf of st and records the outcome on it
func (e *execution) call(ctx context.Context, st *StepResult, method, path string, body any) (*Payload, error) {
	st.Method = method
	st.Path = path
	p, err := e.request(ctx, st.Name, method, path, body)
	if err != nil {
		return nil, err
	}
	st.Payload = p
	return p, nil
}

// identifier extracts a non-empty id from a JSON payload
func identifier(p *Payload, path string) (string, error) {
	if p.Kind != KindJSON {
		return "", fmt.Errorf("%w: %q: response is %q, not JSON", ErrMissingIdentifier, path, p.ContentType)
	}
	id, err := capture.IdentifierFrom(p.Body, path)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMissingIdentifier, err)
	}
	return id, nil
}

func (e *execution) createDataSource(ctx context.Context, st *StepResult) error {
	ds := e.r.config.DataSource
	p, err := e.call(ctx, st, "POST", DataSourcePath, createDataSourceBody{
		Name:          ds.Name,
		DBType:        ds.DBType,
		ConnectionRef: ds.ConnectionRef,
	})
	if err != nil {
		return err
	}

	id, err := identifier(p, pathOr(ds.IDPath, "id"))
	if err != nil {
		return err
	}
	e.result.DataSourceID = id
	st.Output = "data source id: " + id
	return nil
}

func (e *execution) introspect(ctx context.Context, st *StepResult) error {
	id := e.result.DataSourceID
	if id == "" {
		return fmt.Errorf("%w: data source id", ErrMissingIdentifier)
	}
	if _, err := e.call(ctx, st, "POST", IntrospectPath(id), nil); err != nil {
		return err
	}

	waited, err := e.waitForIntrospection(ctx, st, id)
	if err != nil {
		return err
	}
	st.Output = "introspection " + waited
	return nil
}

func (e *execution) createSession(ctx context.Context, st *StepResult) error {
	id := e.result.DataSourceID
	if id == "" {
		return fmt.Errorf("%w: data source id", ErrMissingIdentifier)
	}
	sc := e.r.config.Session
	p, err := e.call(ctx, st, "POST", SessionPath, createSessionBody{
		DataSourceID: id,
		Question:     sc.Question,
	})
	if err != nil {
		return err
	}

	sid, err := identifier(p, pathOr(sc.IDPath, "session_id"))
	if err != nil {
		return err
	}
	e.result.SessionID = sid
	st.Output = "session id: " + sid
	return nil
}

func (e *execution) runSession(ctx context.Context, st *StepResult) error {
	sid := e.result.SessionID
	if sid == "" {
		return fmt.Errorf("%w: session id", ErrMissingIdentifier)
	}
	sc := e.r.config.Session
	p, err := e.call(ctx, st, "POST", RunPath(sid), runSessionBody{
		MaxRows:     sc.MaxRows,
		TimeoutMs:   sc.TimeoutMs,
		LLMProvider: sc.Provider,
		Model:       sc.Model,
	})
	if err != nil {
		return err
	}
	st.Output = runSummary(p)
	return nil
}

// runSummary describes a run response without assuming its exact schema
func runSummary(p *Payload) string {
	if p.Kind != KindJSON {
		return "run completed (" + capture.RawShape(p.Body) + ")"
	}
	var parts []string
	if rows := gjson.GetBytes(p.Body, "rows"); rows.IsArray() {
		parts = append(parts, fmt.Sprintf("%d rows", gjson.GetBytes(p.Body, "rows.#").Int()))
	}
	for _, key := range []string{"status", "llm_provider", "model"} {
		if v := gjson.GetBytes(p.Body, key); v.Type == gjson.String && v.Str != "" {
			parts = append(parts, key+"="+v.Str)
		}
	}
	if len(parts) == 0 {
		return "run completed: " + capture.Shape(p.JSON)
	}
	return "run completed: " + strings.Join(parts, ", ")
}

func (e *execution) exportCSV(ctx context.Context, st *StepResult) error {
	sid := e.result.SessionID
	if sid == "" {
		return fmt.Errorf("%w: session id", ErrMissingIdentifier)
	}
	p, err := e.call(ctx, st, "POST", ExportPath(sid), exportBody{Format: "csv"})
	if err != nil {
		return err
	}

	st.Output = preview(p.Body, e.previewChars())
	if e.r.config.ValidateExports {
		stats, verr := validate.CSV(p.Body)
		if verr != nil {
			st.Warnings = append(st.Warnings, "csv export: "+verr.Error())
		} else {
			e.r.logger.Sugar().Debugf("csv export has %d columns and %d rows", len(stats.Columns), stats.Rows)
		}
	}
	return nil
}

func (e *execution) exportJSON(ctx context.Context, st *StepResult) error {
	sid := e.result.SessionID
	if sid == "" {
		return fmt.Errorf("%w: session id", ErrMissingIdentifier)
	}
	p, err := e.call(ctx, st, "POST", ExportPath(sid), exportBody{Format: "json"})
	if err != nil {
		return err
	}

	if p.Kind == KindJSON {
		st.Output = capture.Shape(p.JSON)
	} else {
		st.Output = capture.Shape(p.Body)
	}

	if e.r.config.ValidateExports {
		switch {
		case p.Kind != KindJSON:
			st.Warnings = append(st.Warnings, fmt.Sprintf("json export: content type %q is not JSON", p.ContentType))
		default:
			if verr := validate.JSON(p.Body, e.r.config.ExportSchema); verr != nil {
				st.Warnings = append(st.Warnings, "json export: "+verr.Error())
			}
		}
	}
	return nil
}

func (e *execution) previewChars() int {
	if e.r.config.PreviewChars > 0 {
		return e.r.config.PreviewChars
	}
	return DefaultPreviewChars
}

// preview returns the first n characters of body, never splitting a rune
func preview(body []byte, n int) string {
	runes := []rune(string(body))
	if len(runes) <= n {
		return string(runes)
	}
	return string(runes[:n])
}

func pathOr(path, def string) string {
	if path == "" {
		return def
	}
	return path
}
