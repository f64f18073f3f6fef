package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"
)

var version = "dev"

// loadEnvFile reads ~/.learncompanion/env (written by make start) and sets any
// key=value pairs not already present in the process environment. This lets
// learncompanionctl work out of the box without shell profile configuration.
func loadEnvFile() {
	home, err := os.UserHomeDir()
	if err != nil {
		return
	}
	data, err := os.ReadFile(home + "/.learncompanion/env")
	if err != nil {
		return
	}
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		k, v, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		if os.Getenv(strings.TrimSpace(k)) == "" {
			_ = os.Setenv(strings.TrimSpace(k), strings.TrimSpace(v))
		}
	}
}

func main() {
	loadEnvFile()
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}
	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "version", "--version", "-v":
		fmt.Printf("learncompanionctl %s\n", version)
	case "admin-token":
		doAdminToken()
	case "status":
		doStatus()
	case "health":
		doHealth()
	case "stats":
		doStats()
	case "events":
		doEvents()
	case "chat-test":
		doChatTest(args)
	case "help", "--help", "-h":
		usageTo(os.Stdout)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", cmd)
		usage()
		os.Exit(1)
	}
}

func usage() {
	usageTo(os.Stderr)
}

func usageTo(w io.Writer) {
	_, _ = fmt.Fprintf(w, `learncompanionctl — CLI for the LearnCompanion admin API

Usage: learncompanionctl <command> [arguments]

Environment:
  LEARNCOMPANION_URL          Base URL (default: http://localhost:8080)
  LEARNCOMPANION_ADMIN_TOKEN  Bearer token for admin endpoints

  ~/.learncompanion/env       Auto-sourced on startup; written by make start.
                        Explicit environment variables take precedence.

Commands:
  admin-token                 Print the admin token (env, file, or Docker)
  status                      Show server readiness and provider/model counts
  health                      Show per-provider circuit-breaker state
  stats                       Show aggregated routing stats
  events                      Stream real-time SSE events
  chat-test <json>            Send a test request through the companion chat endpoint

  version                     Show version
  help                        Show this help

Examples:
  learncompanionctl status
  learncompanionctl health
  learncompanionctl chat-test '{"user_id":"u1","session_id":"s1","message":"explain photosynthesis"}'
  learncompanionctl events
`)
}

// --- HTTP helpers ---

func baseURL() string {
	if u := os.Getenv("LEARNCOMPANION_URL"); u != "" {
		return strings.TrimRight(u, "/")
	}
	return "http://localhost:8080"
}

func adminToken() string {
	return os.Getenv("LEARNCOMPANION_ADMIN_TOKEN")
}

func doRequest(method, path string, body io.Reader) (*http.Response, error) {
	url := baseURL() + path
	req, err := http.NewRequest(method, url, body)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if tok := adminToken(); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	return http.DefaultClient.Do(req)
}

func doGet(path string) map[string]any {
	resp, err := doRequest("GET", path, nil)
	fatal(err)
	defer func() { _ = resp.Body.Close() }()
	return readJSON(resp)
}

func doPost(path, bodyJSON string) map[string]any {
	resp, err := doRequest("POST", path, strings.NewReader(bodyJSON))
	fatal(err)
	defer func() { _ = resp.Body.Close() }()
	return readJSON(resp)
}

func readJSON(resp *http.Response) map[string]any {
	data, err := io.ReadAll(resp.Body)
	fatal(err)
	if resp.StatusCode >= 400 {
		fmt.Fprintf(os.Stderr, "HTTP %d: %s\n", resp.StatusCode, string(data))
		os.Exit(1)
	}
	var result map[string]any
	if err := json.Unmarshal(data, &result); err != nil {
		// Might be an array; wrap it.
		var arr []any
		if err2 := json.Unmarshal(data, &arr); err2 == nil {
			return map[string]any{"items": arr}
		}
		fmt.Println(string(data))
		os.Exit(0)
	}
	return result
}

func prettyJSON(v any) string {
	b, _ := json.MarshalIndent(v, "", "  ")
	return string(b)
}

func fatal(err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func requireArgs(args []string, min int, usage string) {
	if len(args) < min {
		fmt.Fprintf(os.Stderr, "usage: learncompanionctl %s\n", usage)
		os.Exit(1)
	}
}

// --- Commands ---

func doAdminToken() {
	// 1. Environment variable.
	if tok := os.Getenv("LEARNCOMPANION_ADMIN_TOKEN"); tok != "" {
		fmt.Println(tok)
		return
	}

	// 2. Local token file (native deployment).
	home, _ := os.UserHomeDir()
	if home != "" {
		if data, err := os.ReadFile(home + "/.learncompanion/.admin-token"); err == nil {
			if tok := strings.TrimSpace(string(data)); tok != "" {
				fmt.Println(tok)
				return
			}
		}
	}

	// 3. Docker container token file.
	for _, name := range []string{"learncompanion-learncompanion-1", "learncompanion"} {
		out, err := exec.Command("docker", "exec", name, "cat", "/data/.admin-token").Output()
		if err == nil {
			if tok := strings.TrimSpace(string(out)); tok != "" {
				fmt.Println(tok)
				return
			}
		}
	}

	fmt.Fprintln(os.Stderr, "admin token not found — set LEARNCOMPANION_ADMIN_TOKEN or ensure the service is running")
	os.Exit(1)
}

func doStatus() {
	info := doGet("/admin/api/info")
	healthResp, err := doRequest("GET", "/healthz", nil)
	fatal(err)
	defer func() { _ = healthResp.Body.Close() }()
	hData, _ := io.ReadAll(healthResp.Body)
	var h map[string]any
	_ = json.Unmarshal(hData, &h)

	vaultState := "locked"
	if info["vault_locked"] == false {
		vaultState = "unlocked"
	}
	vaultInit := "no"
	if info["vault_initialized"] == true {
		vaultInit = "yes"
	}
	status := "unknown"
	if s, ok := h["status"].(string); ok {
		status = s
	}
	adapters := 0
	if n, ok := h["adapters"].(float64); ok {
		adapters = int(n)
	}
	models := 0
	if n, ok := h["models"].(float64); ok {
		models = int(n)
	}

	fmt.Printf("Server:            %s\n", baseURL())
	fmt.Printf("Status:            %s\n", status)
	fmt.Printf("Adapters:          %d\n", adapters)
	fmt.Printf("Models:            %d\n", models)
	fmt.Printf("Companion enabled: %v\n", info["companion_enabled"])
	fmt.Printf("Vault:             %s\n", vaultState)
	fmt.Printf("Vault initialized: %s\n", vaultInit)
}

func doHealth() {
	data := doGet("/admin/v1/health")
	providers, _ := data["providers"].([]any)
	if len(providers) == 0 {
		fmt.Println("No provider health data available.")
		return
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "PROVIDER\tSTATE\tCONSEC_ERR\tAVG LATENCY\tLAST SUCCESS\tLAST ERROR")
	for _, p := range providers {
		m, ok := p.(map[string]any)
		if !ok {
			continue
		}
		id, _ := m["provider_id"].(string)
		state, _ := m["circuit_state"].(string)
		errs := fmtNum(m["consecutive_failures"])
		lat := fmtDuration(m["p50_latency_ms"])
		lastOK := fmtTime(m["last_success_at"])
		lastErr, _ := m["last_error"].(string)
		if len(lastErr) > 60 {
			lastErr = lastErr[:57] + "..."
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", id, state, errs, lat, lastOK, lastErr)
	}
	_ = tw.Flush()
}

func doStats() {
	data := doGet("/admin/v1/stats")
	fmt.Println(prettyJSON(data))
}

func doEvents() {
	resp, err := doRequest("GET", "/admin/v1/events", nil)
	fatal(err)
	defer func() { _ = resp.Body.Close() }()

	fmt.Println("Streaming events (Ctrl-C to stop)...")
	buf := make([]byte, 4096)
	for {
		n, err := resp.Body.Read(buf)
		if n > 0 {
			lines := strings.Split(string(buf[:n]), "\n")
			for _, line := range lines {
				line = strings.TrimSpace(line)
				if strings.HasPrefix(line, "data:") {
					payload := strings.TrimPrefix(line, "data:")
					payload = strings.TrimSpace(payload)
					var evt map[string]any
					if json.Unmarshal([]byte(payload), &evt) == nil {
						evtType, _ := evt["type"].(string)
						model, _ := evt["model_id"].(string)
						provider, _ := evt["provider_id"].(string)
						latency := fmtDuration(evt["latency_ms"])
						reason, _ := evt["reason"].(string)
						errMsg, _ := evt["error_msg"].(string)
						ts := time.Now().Format("15:04:05")
						if evtType == "route_error" {
							fmt.Printf("[%s] %s  model=%s provider=%s error=%s\n", ts, evtType, model, provider, errMsg)
						} else {
							fmt.Printf("[%s] %s  model=%s provider=%s latency=%s reason=%s\n", ts, evtType, model, provider, latency, reason)
						}
					}
				}
			}
		}
		if err != nil {
			if err == io.EOF {
				fmt.Println("Event stream closed.")
			}
			break
		}
	}
}

// doChatTest sends a single companion chat request and prints the response,
// mirroring the teacher CLI's model-test probe but against the companion's
// own endpoint rather than an OpenAI-compatible proxy.
func doChatTest(args []string) {
	requireArgs(args, 1, "chat-test <json>")

	apiKey := os.Getenv("LEARNCOMPANION_API_KEY")
	if apiKey == "" {
		apiKey = adminToken()
	}

	req, err := http.NewRequest("POST", baseURL()+"/v1/companion/chat", strings.NewReader(args[0]))
	fatal(err)
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}
	var identity struct {
		UserID string `json:"user_id"`
	}
	if json.Unmarshal([]byte(args[0]), &identity) == nil && identity.UserID != "" {
		req.Header.Set("X-User-ID", identity.UserID)
	}
	start := time.Now()
	resp, err := http.DefaultClient.Do(req)
	latency := time.Since(start)
	fatal(err)
	defer func() { _ = resp.Body.Close() }()

	body, _ := io.ReadAll(resp.Body)
	fmt.Printf("Status:     %d\n", resp.StatusCode)
	fmt.Printf("Latency:    %v\n", latency.Round(time.Millisecond))
	if resp.StatusCode == 200 {
		var out map[string]any
		if json.Unmarshal(body, &out) == nil {
			if reply, ok := out["content"].(string); ok {
				fmt.Printf("Reply:      %s\n", reply)
			}
			if provider, ok := out["provider"].(string); ok {
				fmt.Printf("Provider:   %s\n", provider)
			}
		} else {
			fmt.Println(string(body))
		}
	} else {
		fmt.Printf("Error:      %s\n", string(body))
	}
}

// --- Formatting helpers ---

func fmtNum(v any) string {
	if v == nil {
		return "-"
	}
	switch n := v.(type) {
	case float64:
		if n == float64(int(n)) {
			return strconv.Itoa(int(n))
		}
		return strconv.FormatFloat(n, 'f', 2, 64)
	case int:
		return strconv.Itoa(n)
	default:
		return fmt.Sprintf("%v", v)
	}
}

func fmtDuration(v any) string {
	if v == nil {
		return "-"
	}
	if f, ok := v.(float64); ok {
		if f < 1000 {
			return fmt.Sprintf("%.0fms", f)
		}
		return fmt.Sprintf("%.1fs", f/1000)
	}
	return fmt.Sprintf("%v", v)
}

func fmtTime(v any) string {
	if v == nil {
		return "-"
	}
	if s, ok := v.(string); ok {
		if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
			return t.Local().Format("2006-01-02 15:04:05")
		}
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			return t.Local().Format("2006-01-02 15:04:05")
		}
		return s
	}
	return fmt.Sprintf("%v", v)
}

func init() {
	http.DefaultTransport.(*http.Transport).DisableKeepAlives = true
	http.DefaultClient.Timeout = 30 * time.Second
}
