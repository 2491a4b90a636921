// ABOUTME: Admin CLI for keygate key management and maintenance
// ABOUTME: Talks to the gateway's admin HTTP API with a static admin token

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
)

const banner = `
 _                          _                     _           _
| | _____ _   _  __ _  __ _| |_ ___        __ _  __| |_ __ ___ (_)_ __
| |/ / _ \ | | |/ _' |/ _' | __/ _ \_____ / _' |/ _' | '_ ' _ \| | '_ \
|   <  __/ |_| | (_| | (_| | ||  __/_____| (_| | (_| | | | | | | | | | |
|_|\_\___|\__, |\__, |\__,_|\__\___|      \__,_|\__,_|_| |_| |_|_|_| |_|
          |___/ |___/
`

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	baseURL := os.Getenv("KEYGATE_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8088"
	}
	token := os.Getenv("KEYGATE_ADMIN_TOKEN")

	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "keys":
		err = cmdKeys(baseURL, token, args)
	case "cleanup":
		err = cmdCleanup(baseURL, token)
	case "status":
		err = cmdStatus(baseURL)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		color.Red("Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	cyan := color.New(color.FgCyan)
	yellow := color.New(color.FgYellow)

	cyan.Print(banner)
	fmt.Println()
	fmt.Println("Usage: keygate-admin <command> [args]")
	fmt.Println()
	yellow.Println("Commands:")
	fmt.Println("  keys                    List registered keys")
	fmt.Println("  keys list               List registered keys")
	fmt.Println("  keys generate [n]       Generate n keypairs (default 1)")
	fmt.Println("  keys import <pubkey>    Import a raw base64 or ssh-ed25519 public key")
	fmt.Println("  keys revoke <prefix>    Revoke the key matching the prefix")
	fmt.Println("  cleanup                 Run a cleanup pass now")
	fmt.Println("  status                  Check gateway and homeserver reachability")
	fmt.Println()
	yellow.Println("Environment:")
	fmt.Println("  KEYGATE_URL             Gateway base URL (default: http://localhost:8088)")
	fmt.Println("  KEYGATE_ADMIN_TOKEN     Admin bearer token (required for keys/cleanup)")
	fmt.Println()
}

func cmdKeys(baseURL, token string, args []string) error {
	if token == "" {
		return fmt.Errorf("KEYGATE_ADMIN_TOKEN environment variable is required")
	}

	// Default to list
	subcmd := "list"
	if len(args) > 0 {
		subcmd = args[0]
		args = args[1:]
	}

	switch subcmd {
	case "list", "ls":
		return cmdKeysList(baseURL, token)
	case "generate", "gen":
		return cmdKeysGenerate(baseURL, token, args)
	case "import", "add":
		return cmdKeysImport(baseURL, token, args)
	case "revoke", "rm":
		return cmdKeysRevoke(baseURL, token, args)
	default:
		return fmt.Errorf("unknown keys subcommand: %s (use list, generate, import, revoke)", subcmd)
	}
}

type keyRecord struct {
	PublicKey  string `json:"public_key"`
	PrivateKey string `json:"private_key"`
	Prefix     string `json:"prefix"`
	Status     string `json:"status"`
	CreatedAt  string `json:"created_at"`
	ExpiresAt  string `json:"expires_at"`
	RevokedAt  string `json:"revoked_at"`
	LastUsed   string `json:"last_used"`
}

func cmdKeysList(baseURL, token string) error {
	var resp struct {
		Keys []keyRecord `json:"keys"`
	}
	if err := doJSON(http.MethodGet, baseURL+"/admin/keys", token, nil, &resp); err != nil {
		return err
	}

	cyan := color.New(color.FgCyan)
	fmt.Println()
	cyan.Println("  Authorized Keys")
	cyan.Println("  ---------------")

	if len(resp.Keys) == 0 {
		fmt.Println("  (no keys)")
		fmt.Println()
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "  PREFIX\tSTATUS\tCREATED\tEXPIRES\tLAST USED")
	fmt.Fprintln(w, "  ------\t------\t-------\t-------\t---------")

	for _, k := range resp.Keys {
		lastUsed := k.LastUsed
		if lastUsed == "" {
			lastUsed = "never"
		}
		fmt.Fprintf(w, "  %s\t%s\t%s\t%s\t%s\n",
			k.Prefix, k.Status, shortTime(k.CreatedAt), shortTime(k.ExpiresAt), shortTime(lastUsed))
	}
	w.Flush()
	fmt.Println()
	return nil
}

func cmdKeysGenerate(baseURL, token string, args []string) error {
	count := 1
	if len(args) > 0 {
		n, err := strconv.Atoi(args[0])
		if err != nil || n < 1 {
			return fmt.Errorf("count must be a positive integer, got %q", args[0])
		}
		count = n
	}

	var resp struct {
		Keys []keyRecord `json:"keys"`
	}
	err := doJSON(http.MethodPost, baseURL+"/admin/keys/generate", token,
		map[string]int{"count": count}, &resp)
	if err != nil {
		return err
	}

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	fmt.Println()
	green.Printf("  ✓ Generated %d key(s)\n", len(resp.Keys))
	fmt.Println()
	yellow.Println("  Private keys are shown once and never stored. Save them now.")
	fmt.Println()

	for i, k := range resp.Keys {
		fmt.Printf("  Key %d (expires %s)\n", i+1, shortTime(k.ExpiresAt))
		fmt.Printf("    public:  %s\n", k.PublicKey)
		fmt.Printf("    private: %s\n", k.PrivateKey)
		fmt.Println()
	}
	return nil
}

func cmdKeysImport(baseURL, token string, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: keygate-admin keys import <pubkey>")
	}

	var resp keyRecord
	err := doJSON(http.MethodPost, baseURL+"/admin/keys/import", token,
		map[string]string{"public_key": args[0]}, &resp)
	if err != nil {
		return err
	}

	color.Green("  ✓ Imported key %s (expires %s)\n", resp.Prefix, shortTime(resp.ExpiresAt))
	return nil
}

func cmdKeysRevoke(baseURL, token string, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: keygate-admin keys revoke <prefix>")
	}

	var resp keyRecord
	err := doJSON(http.MethodPost, baseURL+"/admin/keys/revoke", token,
		map[string]string{"prefix": args[0]}, &resp)
	if err != nil {
		return err
	}

	color.Green("  ✓ Revoked key %s at %s\n", resp.Prefix, shortTime(resp.RevokedAt))
	return nil
}

func cmdCleanup(baseURL, token string) error {
	if token == "" {
		return fmt.Errorf("KEYGATE_ADMIN_TOKEN environment variable is required")
	}

	var stats struct {
		ExpiredKeys   int `json:"expired_keys"`
		IdleSessions  int `json:"idle_sessions"`
		OrphanedUsers int `json:"orphaned_users"`
	}
	if err := doJSON(http.MethodPost, baseURL+"/admin/cleanup", token, map[string]any{}, &stats); err != nil {
		return err
	}

	color.Green("  ✓ Cleanup complete\n")
	fmt.Printf("    expired keys:    %d\n", stats.ExpiredKeys)
	fmt.Printf("    idle sessions:   %d\n", stats.IdleSessions)
	fmt.Printf("    orphaned users:  %d\n", stats.OrphanedUsers)
	return nil
}

func cmdStatus(baseURL string) error {
	var health struct {
		Status string `json:"status"`
	}
	if err := doJSON(http.MethodGet, baseURL+"/healthz", "", nil, &health); err != nil {
		return fmt.Errorf("gateway unreachable: %w", err)
	}
	color.Green("  ✓ Gateway:  %s\n", health.Status)

	var versions struct {
		Versions []string `json:"versions"`
	}
	if err := doJSON(http.MethodGet, baseURL+"/synapse/version", "", nil, &versions); err != nil {
		color.Yellow("  ✗ Synapse:  %v\n", err)
		return nil
	}
	color.Green("  ✓ Synapse:  %d supported versions\n", len(versions.Versions))
	return nil
}

// doJSON performs one JSON request against the gateway.
func doJSON(method, url, token string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		reqBody = bytes.NewReader(buf)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var gwErr struct {
			Error string `json:"error"`
		}
		if json.NewDecoder(resp.Body).Decode(&gwErr) == nil && gwErr.Error != "" {
			return fmt.Errorf("gateway returned %d: %s", resp.StatusCode, gwErr.Error)
		}
		return fmt.Errorf("gateway returned %d", resp.StatusCode)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}
	return nil
}

// shortTime renders an RFC3339 timestamp compactly, passing through
// anything it cannot parse.
func shortTime(s string) string {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.Local().Format("2006-01-02 15:04")
	}
	return s
}
