package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	pgzip "github.com/klauspost/pgzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/cargo-orchestrator/internal/domain/plan"
)

func writeGz(t *testing.T, dir, name, content string) string {
	t.Helper()
	var buf bytes.Buffer
	zw := pgzip.NewWriter(&buf)
	_, err := zw.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o600))
	return path
}

func TestParse(t *testing.T) {
	in := strings.Join([]string{
		"customer_id,customer_name,tier",
		"cust-1, Acme, Bronze",
		"cust-2,Globex,Gold - 25%",
		"cust-3,Initech,Diamond",
		",Nobody,Silver",
		"cust-4,Short",
		"cust-5,Umbrella,platinum",
	}, "\n")

	res, err := parse(context.Background(), strings.NewReader(in), "test", false)
	require.NoError(t, err)
	assert.Equal(t, 3, res.rejected)
	assert.Equal(t, []assignment{
		{customerID: "cust-1", customerName: "Acme", tier: plan.Bronze},
		{customerID: "cust-2", customerName: "Globex", tier: plan.Gold},
		{customerID: "cust-5", customerName: "Umbrella", tier: plan.Platinum},
	}, res.rows)
}

func TestParse_Strict(t *testing.T) {
	in := "cust-1,Acme,Bronze\ncust-2,Globex,Diamond\n"

	_, err := parse(context.Background(), strings.NewReader(in), "test", true)
	require.ErrorIs(t, err, plan.ErrUnknownTier)
	assert.Contains(t, err.Error(), "record 2")
}

func TestReadFiles_LastWins(t *testing.T) {
	dir := t.TempDir()
	first := writeGz(t, dir, "a.csv.gz", "cust-1,Acme,Bronze\ncust-2,Globex,Silver\n")
	second := writeGz(t, dir, "b.csv.gz", "customer_id,customer_name,tier\ncust-1,Acme Corp,Gold\n")

	rows, err := readFiles(context.Background(), []string{first, second}, false)
	require.NoError(t, err)
	assert.Equal(t, []assignment{
		{customerID: "cust-1", customerName: "Acme Corp", tier: plan.Gold},
		{customerID: "cust-2", customerName: "Globex", tier: plan.Silver},
	}, rows)
}

func TestReadFiles_Missing(t *testing.T) {
	_, err := readFiles(context.Background(), []string{filepath.Join(t.TempDir(), "nope.csv.gz")}, false)
	require.Error(t, err)
}
