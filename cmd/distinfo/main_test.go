package main

import (
	"bytes"
	"encoding/json"
	"io"
	"testing"

	"github.com/couchbase/stellar-distributed/common/distconfig"
	"github.com/couchbase/stellar-distributed/common/membership"
	"github.com/couchbase/stellar-distributed/testutils"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func executeCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()

	out := new(bytes.Buffer)
	rootCmd.SetOut(out)
	rootCmd.SetErr(io.Discard)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
	})

	err := rootCmd.Execute()
	return out.String(), err
}

func writeDescriptor(t *testing.T, d *testutils.DescriptorSpec) string {
	dir := t.TempDir()
	d.WriteJSON(t, afero.NewOsFs(), dir)
	return dir
}

func TestValidate(t *testing.T) {
	d := testutils.NewDescriptor(3, 1)
	dir := writeDescriptor(t, d)

	out, err := executeCommand(t, "validate", "--config-dir", dir, "--strict=false")
	require.NoError(t, err)
	assert.Equal(t, "distributed configuration is valid on "+d.Members[1].Identity+"\n", out)
}

func TestValidateMissingDescriptor(t *testing.T) {
	_, err := executeCommand(t, "validate", "--config-dir", t.TempDir(), "--strict=false")
	require.ErrorIs(t, err, distconfig.ErrConfigNotFound)
}

func TestValidateStrict(t *testing.T) {
	d := testutils.NewDescriptor(3, 0)
	d.RequiredCount = 4
	dir := writeDescriptor(t, d)

	_, err := executeCommand(t, "validate", "--config-dir", dir, "--strict=false")
	require.NoError(t, err)

	_, err = executeCommand(t, "validate", "--config-dir", dir, "--strict")
	require.ErrorIs(t, err, membership.ErrIncompleteTopology)
}

func TestValidateMissingLocalAddress(t *testing.T) {
	d := testutils.NewDescriptor(2, 0)
	d.Members[1].LocalIPs = nil
	dir := writeDescriptor(t, d)

	_, err := executeCommand(t, "validate", "--config-dir", dir, "--strict=false")
	require.ErrorIs(t, err, membership.ErrNoAddress)
}

func TestHosts(t *testing.T) {
	dir := writeDescriptor(t, testutils.NewDescriptor(2, 0))

	out, err := executeCommand(t, "hosts", "--config-dir", dir, "--strict=false", "--processes-per-host", "4")
	require.NoError(t, err)
	assert.Equal(t, "HOSTS=10.0.16.20:4,10.0.16.21:4\nNP=8\n", out)
}

func TestRendezvous(t *testing.T) {
	dir := writeDescriptor(t, testutils.NewDescriptor(3, 2))

	out, err := executeCommand(t, "rendezvous", "--config-dir", dir, "--strict=false", "--port", "29500")
	require.NoError(t, err)
	assert.Equal(t, "MASTER_URL=tcp://10.0.16.20:29500\nRANK=2\nWORLD_SIZE=3\n", out)
}

func TestTFConfig(t *testing.T) {
	dir := writeDescriptor(t, testutils.NewDescriptor(2, 1))

	out, err := executeCommand(t, "tf-config", "--config-dir", dir, "--strict=false", "--port", "2222")
	require.NoError(t, err)

	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(out), &doc))
	assert.Equal(t, map[string]interface{}{
		"cluster": map[string]interface{}{
			"worker": []interface{}{"10.0.16.20:2222", "10.0.16.21:2222"},
		},
		"task": map[string]interface{}{
			"type":  "worker",
			"index": float64(1),
		},
	}, doc)
}

func TestSSHPlan(t *testing.T) {
	dir := writeDescriptor(t, testutils.NewDescriptor(3, 0))

	out, err := executeCommand(t, "ssh-plan", "--config-dir", dir, "--strict=false")
	require.NoError(t, err)
	assert.Equal(t,
		"IS_MASTER=true\nSELF=10.0.16.20\nMASTER=10.0.16.20\nWORKER=10.0.16.21\nWORKER=10.0.16.22\n",
		out)
}

func TestMembers(t *testing.T) {
	d := testutils.NewDescriptor(2, 1)
	dir := writeDescriptor(t, d)

	out, err := executeCommand(t, "members", "--config-dir", dir, "--strict=false")
	require.NoError(t, err)

	assert.Contains(t, out, "RANK")
	assert.Contains(t, out, d.Members[0].Identity)
	assert.Contains(t, out, "master")
	assert.Contains(t, out, "worker (self)")
}
