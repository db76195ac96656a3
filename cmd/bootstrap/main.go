// Command bootstrap prepares a GEvidence deployment: it validates the
// wiring profile, initializes the database schema when DATABASE_URL is
// set, mints bearer tokens for every principal the profile grants a role
// to, and, when GEV_NODE_URL points at a running node, applies the
// profile's grants and economic parameters over the API.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/gevidence-labs/gevidence/core/pkg/api"
	"github.com/gevidence-labs/gevidence/core/pkg/auth"
	"github.com/gevidence-labs/gevidence/core/pkg/config"
	"github.com/gevidence-labs/gevidence/core/pkg/store"
)

func main() {
	if len(os.Args) < 2 {
		log.Fatal("Usage: bootstrap <profile.yaml>")
	}
	profilePath := os.Args[1]

	// 1. Validate the wiring profile.
	log.Println("[bootstrap] validating profile...")
	profile, err := config.LoadProfile(profilePath)
	if err != nil {
		log.Fatalf("Profile invalid: %v", err)
	}
	log.Printf("[bootstrap] profile %q ok: treasury=%s grants=%d\n",
		profile.Name, profile.Treasury, len(profile.Grants))
	log.Printf("[bootstrap] engines: crowdfund=%s offcycle=%s certificate=%s\n",
		profile.Engines.Crowdfund, profile.Engines.OffCycle, profile.Engines.Certificate)

	// 2. Initialize schemas when a database is configured.
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		log.Println("[bootstrap] initializing schemas...")
		es, err := store.Open(dbURL)
		if err != nil {
			log.Fatalf("Failed to open event store: %v", err)
		}
		defer func() { _ = es.Close() }()

		if es.Postgres() {
			idem := api.NewPostgresIdempotencyStore(es.DB(), 24*time.Hour)
			if err := idem.Migrate(); err != nil {
				log.Fatalf("Failed to init idempotency schema: %v", err)
			}
		}
		log.Println("[bootstrap] schemas initialized.")
	}

	// 3. Mint operator tokens for every granted principal.
	secret := os.Getenv("GEV_JWT_SECRET")
	if secret == "" {
		log.Println("[bootstrap] GEV_JWT_SECRET unset, skipping token minting.")
		log.Println("[bootstrap] bootstrap complete.")
		return
	}

	issuer := os.Getenv("GEV_JWT_ISSUER")
	if issuer == "" {
		issuer = "gevidence"
	}
	verifier := auth.NewVerifier([]byte(secret), issuer)

	ttl := 24 * time.Hour
	if v := os.Getenv("GEV_TOKEN_TTL"); v != "" {
		parsed, err := time.ParseDuration(v)
		if err != nil {
			log.Fatalf("Invalid GEV_TOKEN_TTL: %v", err)
		}
		ttl = parsed
	}

	// Collect roles per principal so each gets a single token.
	byPrincipal := make(map[string][]string)
	order := make([]string, 0, len(profile.Grants))
	for _, g := range profile.Grants {
		if _, seen := byPrincipal[g.Principal]; !seen {
			order = append(order, g.Principal)
		}
		byPrincipal[g.Principal] = append(byPrincipal[g.Principal], g.Role)
	}

	log.Printf("[bootstrap] minting tokens (ttl %s)...\n", ttl)
	tokens := make(map[string]string, len(order))
	for _, principal := range order {
		token, err := verifier.Sign(principal, byPrincipal[principal], ttl)
		if err != nil {
			log.Fatalf("Failed to sign token for %s: %v", principal, err)
		}
		tokens[principal] = token
		log.Printf("  %s roles=%v\n  %s\n", principal, byPrincipal[principal], token)
	}

	// 4. Wire a running node when one is reachable.
	if nodeURL := os.Getenv("GEV_NODE_URL"); nodeURL != "" {
		if err := wireNode(nodeURL, profile, tokens); err != nil {
			log.Fatalf("Failed to wire node: %v", err)
		}
	}

	log.Println("[bootstrap] bootstrap complete.")
}

// wireNode applies the profile's grants and economic parameters against a
// running node. Grants and setters require an ADMIN principal with a token
// minted above.
func wireNode(nodeURL string, profile *config.WiringProfile, tokens map[string]string) error {
	var adminToken string
	for _, g := range profile.Grants {
		if g.Role == "ADMIN" {
			adminToken = tokens[g.Principal]
			break
		}
	}
	if adminToken == "" {
		return fmt.Errorf("no ADMIN grant in profile, cannot wire node")
	}

	client := &http.Client{Timeout: 10 * time.Second}
	post := func(path string, body any) error {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		req, err := http.NewRequest(http.MethodPost, nodeURL+path, bytes.NewReader(payload))
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+adminToken)
		req.Header.Set("Content-Type", "application/json")
		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		defer func() { _ = resp.Body.Close() }()
		if resp.StatusCode >= 400 {
			return fmt.Errorf("%s returned %d", path, resp.StatusCode)
		}
		return nil
	}

	log.Printf("[bootstrap] wiring node %s...\n", nodeURL)
	for _, g := range profile.Grants {
		if err := post("/v1/roles/grant", map[string]string{"role": g.Role, "principal": g.Principal}); err != nil {
			return fmt.Errorf("grant %s to %s: %w", g.Role, g.Principal, err)
		}
	}
	if err := post("/v1/admin/treasury", map[string]string{"treasury": profile.Treasury}); err != nil {
		return err
	}
	if err := post("/v1/admin/min-goal", map[string]string{"min_goal_wei": profile.MinGoal().String()}); err != nil {
		return err
	}
	if err := post("/v1/admin/min-duration", map[string]int64{"seconds": profile.MinDurationSeconds}); err != nil {
		return err
	}
	if err := post("/v1/admin/min-stake", map[string]string{"min_stake": profile.MinStakeWei().String()}); err != nil {
		return err
	}
	log.Println("[bootstrap] node wired.")
	return nil
}
