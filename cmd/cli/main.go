package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/aryan0dhankhar/gatekeeper/internal/security/auth"
	"github.com/aryan0dhankhar/gatekeeper/internal/security/middleware"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]
	args := os.Args[2:]

	switch command {
	case "hash-password":
		hashPassword(args)
	case "login":
		loginUser(args)
	case "who":
		whoAmI()
	case "permissions":
		listPermissions()
	case "logout":
		logoutUser()
	case "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

// hashPassword prints a bcrypt hash for seeding the users table
func hashPassword(args []string) {
	fs := flag.NewFlagSet("hash-password", flag.ExitOnError)
	cost := fs.Int("cost", auth.DefaultCost, "bcrypt cost")
	fs.Parse(args)

	password := fs.Arg(0)
	if password == "" {
		fmt.Fprint(os.Stderr, "password: ")
		line, _ := bufio.NewReader(os.Stdin).ReadString('\n')
		password = strings.TrimRight(line, "\r\n")
	}
	if err := auth.ValidatePassword(password); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	hash, err := auth.HashPassword(password, *cost)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(hash)
}

func loginUser(args []string) {
	fs := flag.NewFlagSet("login", flag.ExitOnError)
	identifier := fs.String("user", "", "username or email")
	password := fs.String("password", "", "password")

	fs.Parse(args)

	if *identifier == "" || *password == "" {
		fmt.Println("Error: user and password are required")
		fs.PrintDefaults()
		return
	}

	payload := map[string]string{"identifier": *identifier, "password": *password}
	data, _ := json.Marshal(payload)
	resp, err := http.Post(getAPIURL()+"/auth/login", "application/json", bytes.NewReader(data))
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	defer resp.Body.Close()

	var result map[string]interface{}
	json.NewDecoder(resp.Body).Decode(&result)
	switch resp.StatusCode {
	case http.StatusOK:
		saveSessionFrom(resp)
		fmt.Printf("✓ Logged in as: %s (session expires %v)\n", *identifier, result["expiresAt"])
	case http.StatusTooManyRequests:
		fmt.Printf("✗ Locked out, retry after %s seconds\n", resp.Header.Get("Retry-After"))
	default:
		fmt.Printf("✗ Login failed: %v\n", result["error"])
	}
}

func whoAmI() {
	resp, err := authedRequest(http.MethodGet, "/auth/me")
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		fmt.Println("Not logged in")
		return
	}
	saveSessionFrom(resp)

	var user map[string]interface{}
	json.NewDecoder(resp.Body).Decode(&user)
	fmt.Printf("✓ %v <%v> role=%v status=%v\n", user["username"], user["email"], user["role"], user["status"])
}

func listPermissions() {
	resp, err := authedRequest(http.MethodGet, "/auth/permissions")
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		fmt.Println("Not logged in")
		return
	}
	saveSessionFrom(resp)

	var result struct {
		Permissions []string `json:"permissions"`
	}
	json.NewDecoder(resp.Body).Decode(&result)
	for _, p := range result.Permissions {
		fmt.Println(p)
	}
}

func logoutUser() {
	resp, err := authedRequest(http.MethodPost, "/auth/logout")
	if err == nil {
		resp.Body.Close()
	}
	os.Remove(sessionFile())
	fmt.Println("✓ Logged out")
}

// Helper functions
func getAPIURL() string {
	if url := os.Getenv("GATEKEEPER_API"); url != "" {
		return url
	}
	return "http://localhost:8080/api"
}

func cookieName() string {
	if name := os.Getenv("SESSION_COOKIE_NAME"); name != "" {
		return name
	}
	return middleware.DefaultCookieName
}

func sessionFile() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".gatekeeper", "session")
}

// saveSessionFrom stores the session cookie if the server issued one. A
// rotated id replaces the stored one.
func saveSessionFrom(resp *http.Response) {
	for _, c := range resp.Cookies() {
		if c.Name != cookieName() || c.Value == "" {
			continue
		}
		os.MkdirAll(filepath.Dir(sessionFile()), 0700)
		os.WriteFile(sessionFile(), []byte(c.Value), 0600)
	}
}

func loadSession() string {
	data, _ := os.ReadFile(sessionFile())
	return strings.TrimSpace(string(data))
}

func authedRequest(method, path string) (*http.Response, error) {
	req, err := http.NewRequest(method, getAPIURL()+path, nil)
	if err != nil {
		return nil, err
	}
	if id := loadSession(); id != "" {
		req.AddCookie(&http.Cookie{Name: cookieName(), Value: id})
	}
	return http.DefaultClient.Do(req)
}

func printUsage() {
	fmt.Print(`Gatekeeper CLI

Usage:
  gatekeeper <command> [options]

Commands:
  hash-password  Print a bcrypt hash for seeding the users table
  login          Start a session (stored in ~/.gatekeeper/session)
  who            Show the current user
  permissions    List effective permissions
  logout         End the session
  help           Show this help message

Environment Variables:
  GATEKEEPER_API        API endpoint (default: http://localhost:8080/api)
  SESSION_COOKIE_NAME   Session cookie name (default: gk_session)

Examples:
  gatekeeper hash-password 'correct-horse'
  gatekeeper login -user alice -password 'correct-horse'
  gatekeeper who
`)
}
