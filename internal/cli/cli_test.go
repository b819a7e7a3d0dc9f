package cli

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trustfund/internal/address"
	"trustfund/internal/escrow"
	"trustfund/internal/handler"
	"trustfund/internal/token"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := RootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func runJSON(t *testing.T, args ...string) map[string]any {
	t.Helper()
	out, err := run(t, append(args, "--json")...)
	require.NoError(t, err, out)
	var m map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &m))
	return m
}

func TestKeygenWritesLoadableKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "client.key")
	res := runJSON(t, "keygen", "--out", path)

	key, err := loadKey(path)
	require.NoError(t, err)
	addr, err := address.FromPublicKey(key.Public().(ed25519.PublicKey))
	require.NoError(t, err)
	assert.Equal(t, addr.String(), res["address"])
	assert.NotContains(t, res, "private_key")
}

func TestDeriveMatchesProgram(t *testing.T) {
	owner := address.MustParse("4Nd1mBQtrMJVYVfKf2PJy9NZUZdTAsp7D4xWLs4gDB4T")
	mint := address.MustParse("So11111111111111111111111111111111111111112")

	wantProject, wantBump, err := address.FindProgramAddress(address.ProjectSeeds(owner), escrow.DefaultProgramID)
	require.NoError(t, err)
	res := runJSON(t, "derive", "project", owner.String())
	assert.Equal(t, wantProject.String(), res["address"])
	assert.EqualValues(t, wantBump, res["bump"])

	wantVault, _, err := address.FindProgramAddress(address.VaultTokenSeeds(wantProject), escrow.DefaultProgramID)
	require.NoError(t, err)
	res = runJSON(t, "derive", "vault", wantProject.String())
	assert.Equal(t, wantVault.String(), res["vault"])

	wantMilestone, _, err := address.FindProgramAddress(address.MilestoneSeeds(wantProject, 7), escrow.DefaultProgramID)
	require.NoError(t, err)
	res = runJSON(t, "derive", "milestone", wantProject.String(), "7")
	assert.Equal(t, wantMilestone.String(), res["address"])

	wantAccount, err := token.AccountAddress(owner, mint)
	require.NoError(t, err)
	res = runJSON(t, "derive", "token-account", owner.String(), mint.String())
	assert.Equal(t, wantAccount.String(), res["address"])
}

func TestDeriveRejectsBadInput(t *testing.T) {
	_, err := run(t, "derive", "project", "not-an-address")
	require.Error(t, err)

	project := address.MustParse("4Nd1mBQtrMJVYVfKf2PJy9NZUZdTAsp7D4xWLs4gDB4T")
	_, err = run(t, "derive", "milestone", project.String(), "256")
	require.Error(t, err)
}

func TestWalletLogin(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	const message = "trustfund login: nonce-1"

	mux := http.NewServeMux()
	mux.HandleFunc("/auth/challenge", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"nonce": "nonce-1", "message": message})
	})
	mux.HandleFunc("/auth/login", func(w http.ResponseWriter, r *http.Request) {
		var req map[string]string
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		sig, err := base58.Decode(req["signature"])
		if err != nil || !ed25519.Verify(pub, []byte(message), sig) {
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(handler.ErrorResponse{Error: "InvalidSignature", Message: "bad signature"})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"token": "tok-" + req["public_key"]})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	signer, err := address.FromPublicKey(pub)
	require.NoError(t, err)
	tok, err := WalletLogin(context.Background(), NewClient(srv.URL, ""), priv)
	require.NoError(t, err)
	assert.Equal(t, "tok-"+signer.String(), tok)

	_, other, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	_, err = WalletLogin(context.Background(), NewClient(srv.URL, ""), other)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)
}

func TestClientSendsHeadersAndDecodesErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.Equal(t, "key-1", r.Header.Get("Idempotency-Key"))
		assert.NotEmpty(t, r.Header.Get("X-Trace-ID"))
		w.WriteHeader(http.StatusConflict)
		_ = json.NewEncoder(w).Encode(handler.ErrorResponse{
			Error:   "MilestoneAlreadyReleased",
			Message: "milestone already released",
			Number:  6003,
		})
	}))
	t.Cleanup(srv.Close)

	out, err := run(t, "project", "release", "P", "1",
		"--server", srv.URL, "--token", "tok", "--idempotency-key", "key-1")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr, out)
	assert.Equal(t, http.StatusConflict, apiErr.Status)
	assert.Equal(t, 6003, apiErr.Number)
	assert.Contains(t, apiErr.Error(), "MilestoneAlreadyReleased")
}

func TestHashPassword(t *testing.T) {
	out, err := run(t, "hash-password", "s3cret")
	require.NoError(t, err)
	assert.Contains(t, out, "$2a$")
}
