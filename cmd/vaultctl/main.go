package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"multivault/cmd/internal/secret"
	"multivault/config"
	"multivault/gateway/middleware"
)

const (
	tokenCommand = "token"
	getCommand   = "get"
	postCommand  = "post"
	putCommand   = "put"

	defaultConfig    = "./vaultd.toml"
	defaultSecretEnv = "VAULT_HMAC_SECRET"
	defaultURL       = "http://127.0.0.1:8545"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}
	var err error
	switch os.Args[1] {
	case tokenCommand:
		err = runToken(os.Args[2:], os.Stdout)
	case getCommand:
		err = runRequest(http.MethodGet, os.Args[2:], os.Stdout)
	case postCommand:
		err = runRequest(http.MethodPost, os.Args[2:], os.Stdout)
	case putCommand:
		err = runRequest(http.MethodPut, os.Args[2:], os.Stdout)
	default:
		usage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: vaultctl <command> [flags]

Commands:
  %s   mint a bearer token for a caller address
  %s     GET a vault API path
  %s    POST a JSON body to a vault API path
  %s     PUT a JSON body to a vault API path
`, tokenCommand, getCommand, postCommand, putCommand)
}

func runToken(args []string, out io.Writer) error {
	fs := flag.NewFlagSet(tokenCommand, flag.ContinueOnError)
	configPath := fs.String("config", defaultConfig, "Path to the vaultd config file")
	caller := fs.String("caller", "", "Caller address placed in the token subject")
	ttl := fs.Duration("ttl", time.Hour, "Token lifetime")
	secretEnv := fs.String("secret-env", defaultSecretEnv, "Environment variable holding the HMAC secret")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if !common.IsHexAddress(*caller) {
		return fmt.Errorf("-caller must be a hex address")
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	key := cfg.Auth.HMACSecret
	if strings.TrimSpace(key) == "" {
		key, err = secret.NewSource(*secretEnv, "gateway HMAC secret").Get()
		if err != nil {
			return err
		}
	}
	token, err := middleware.IssueToken(key, common.HexToAddress(*caller), cfg.Auth.Issuer, cfg.Auth.Audience, *ttl, time.Now())
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, token)
	return err
}

func runRequest(method string, args []string, out io.Writer) error {
	fs := flag.NewFlagSet(strings.ToLower(method), flag.ContinueOnError)
	baseURL := fs.String("url", defaultURL, "Base URL of vaultd")
	caller := fs.String("caller", "", "Caller address sent in the X-Vault-Caller header")
	token := fs.String("token", os.Getenv("VAULT_TOKEN"), "Bearer token; overrides -caller when the gateway enforces auth")
	timeout := fs.Duration("timeout", 15*time.Second, "Request timeout")
	if err := fs.Parse(args); err != nil {
		return err
	}
	rest := fs.Args()
	if len(rest) == 0 {
		return fmt.Errorf("%s requires a path", strings.ToLower(method))
	}
	var body []byte
	if method != http.MethodGet {
		if len(rest) < 2 {
			return fmt.Errorf("%s requires a JSON body", strings.ToLower(method))
		}
		body = []byte(rest[1])
		if !json.Valid(body) {
			return fmt.Errorf("body is not valid JSON")
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	return send(ctx, http.DefaultClient, method, strings.TrimRight(*baseURL, "/")+"/"+strings.TrimLeft(rest[0], "/"), *caller, *token, body, out)
}

func send(ctx context.Context, client *http.Client, method, url, caller, token string, body []byte, out io.Writer) error {
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if caller != "" {
		req.Header.Set(middleware.CallerHeader, caller)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	var pretty bytes.Buffer
	if json.Indent(&pretty, payload, "", "  ") == nil {
		payload = pretty.Bytes()
	}
	if _, err := fmt.Fprintln(out, string(payload)); err != nil {
		return err
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("%s %s: %s", method, url, resp.Status)
	}
	return nil
}
