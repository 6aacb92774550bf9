// Command smoke drives one full appeal lifecycle against a running
// deployment: file a report, reject it, appeal, walk the review chain and
// verify the report is restored after approval. Exits non-zero on the first
// failed step.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"time"
)

type client struct {
	base string
	http *http.Client
}

type actor struct {
	email    string
	password string
	token    string
}

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func main() {
	var (
		base    string
		prefix  string
		timeout time.Duration
	)
	student := actor{}
	admin := actor{}
	deptHead := actor{}
	president := actor{}

	flag.StringVar(&base, "base", "http://localhost:8080", "API base URL")
	flag.StringVar(&prefix, "prefix", "/api/v1", "API route prefix")
	flag.DurationVar(&timeout, "timeout", 10*time.Second, "HTTP client timeout")
	flag.StringVar(&student.email, "student-email", "student@example.com", "student account email")
	flag.StringVar(&student.password, "student-password", "password", "student account password")
	flag.StringVar(&admin.email, "admin-email", "admin@example.com", "admin account email")
	flag.StringVar(&admin.password, "admin-password", "password", "admin account password")
	flag.StringVar(&deptHead.email, "dept-email", "dept@example.com", "department head account email")
	flag.StringVar(&deptHead.password, "dept-password", "password", "department head account password")
	flag.StringVar(&president.email, "president-email", "president@example.com", "president account email")
	flag.StringVar(&president.password, "president-password", "password", "president account password")
	flag.Parse()

	c := &client{
		base: strings.TrimRight(base, "/") + prefix,
		http: &http.Client{Timeout: timeout},
	}

	for _, a := range []*actor{&student, &admin, &deptHead, &president} {
		if err := c.login(a); err != nil {
			log.Fatalf("login %s: %v", a.email, err)
		}
	}

	report, err := c.createReport(&student)
	if err != nil {
		log.Fatalf("create report: %v", err)
	}
	log.Printf("report filed: %s", report["id"])

	if err := c.moderate(&admin, report["id"].(string), "rejected", "smoke test rejection"); err != nil {
		log.Fatalf("reject report: %v", err)
	}

	appeal, err := c.submitAppeal(&student, report["id"].(string))
	if err != nil {
		log.Fatalf("submit appeal: %v", err)
	}
	appealID := appeal["id"].(string)
	log.Printf("appeal submitted: %s status=%v", appealID, appeal["status"])

	steps := []struct {
		name  string
		actor *actor
		path  string
		body  map[string]interface{}
	}{
		{"admin review", &admin, "/appeals/" + appealID + "/review", map[string]interface{}{"action": "forward", "notes": "smoke"}},
		{"department review", &deptHead, "/appeals/" + appealID + "/department-review", map[string]interface{}{"proposal": "approve, evidence is sound"}},
		{"president decision", &president, "/appeals/" + appealID + "/decision", map[string]interface{}{"decision": "approve", "reasoning": "smoke approval"}},
	}
	for _, step := range steps {
		result, err := c.post(step.actor, step.path, step.body)
		if err != nil {
			log.Fatalf("%s: %v", step.name, err)
		}
		log.Printf("%s: status=%v stage=%v", step.name, result["status"], result["current_stage"])
	}

	final, err := c.get(&student, "/appeals/"+appealID)
	if err != nil {
		log.Fatalf("fetch appeal: %v", err)
	}
	if final["status"] != "COMPLETED" {
		log.Printf("appeal did not complete: %v", final["status"])
		os.Exit(1)
	}

	restored, err := c.get(&student, "/reports/"+report["id"].(string))
	if err != nil {
		log.Fatalf("fetch report: %v", err)
	}
	if restored["status"] != "pending" || restored["restored_by_appeal"] != true {
		log.Printf("report was not restored: status=%v restored=%v", restored["status"], restored["restored_by_appeal"])
		os.Exit(1)
	}

	log.Printf("workflow completed, report %s restored", report["id"])
}

func (c *client) login(a *actor) error {
	data, err := c.request(http.MethodPost, "/auth/login", "", map[string]interface{}{
		"email":    a.email,
		"password": a.password,
	})
	if err != nil {
		return err
	}
	var resp struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return err
	}
	if resp.AccessToken == "" {
		return fmt.Errorf("no access token returned")
	}
	a.token = resp.AccessToken
	return nil
}

func (c *client) createReport(a *actor) (map[string]interface{}, error) {
	return c.post(a, "/reports", map[string]interface{}{
		"title":       fmt.Sprintf("Smoke report %d", time.Now().Unix()),
		"description": "Automated smoke check of the appeal workflow.",
		"category":    "OTHER",
	})
}

func (c *client) moderate(a *actor, reportID, status, reason string) error {
	_, err := c.post(a, "/reports/"+reportID+"/moderate", map[string]interface{}{
		"status":           status,
		"rejection_reason": reason,
	})
	return err
}

func (c *client) submitAppeal(a *actor, reportID string) (map[string]interface{}, error) {
	return c.post(a, "/appeals", map[string]interface{}{
		"report_id": reportID,
		"reason":    "The rejection misread the attached description; the incident is real and still unresolved.",
	})
}

func (c *client) post(a *actor, path string, body map[string]interface{}) (map[string]interface{}, error) {
	data, err := c.request(http.MethodPost, path, a.token, body)
	if err != nil {
		return nil, err
	}
	return decodeObject(data)
}

func (c *client) get(a *actor, path string) (map[string]interface{}, error) {
	data, err := c.request(http.MethodGet, path, a.token, nil)
	if err != nil {
		return nil, err
	}
	return decodeObject(data)
}

func (c *client) request(method, path, token string, body map[string]interface{}) (json.RawMessage, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequest(method, c.base+path, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%s %s: status %d, unparseable body", method, path, resp.StatusCode)
	}
	if resp.StatusCode >= 300 {
		if env.Error != nil {
			return nil, fmt.Errorf("%s %s: %d %s: %s", method, path, resp.StatusCode, env.Error.Code, env.Error.Message)
		}
		return nil, fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode)
	}
	return env.Data, nil
}

func decodeObject(data json.RawMessage) (map[string]interface{}, error) {
	var obj map[string]interface{}
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, err
	}
	return obj, nil
}
