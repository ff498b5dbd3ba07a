package core

import (
	"testing"

	"kittyledger/testutil"
)

func TestCoreDoesNotImportOuterLayers(t *testing.T) {
	testutil.AssertNoDirectImports(t, ".", testutil.LayerImportForbidden("kittyledger", "cmd", "internal/config"),
		"core must not depend on the CLI or configuration loading")
}

func TestAdaptersDoNotImportCore(t *testing.T) {
	dirs := []string{
		"../infra/balances",
		"../infra/events",
		"../infra/randomness",
		"../infra/archive",
		"../infra/archive/fs",
		"../infra/archive/s3",
		"../infra/persistence/memory",
		"../infra/persistence/sqlite",
		"../infra/persistence/postgres",
	}
	forbidden := testutil.LayerImportForbidden("kittyledger", "internal/core", "internal/config", "cmd")
	for _, dir := range dirs {
		testutil.AssertNoDirectImports(t, dir, forbidden, dir+" is an adapter below core")
	}
}
