package v1

import "github.com/tinoosan/shopledger/internal/service/migrate"

// Compile-time interface assertions for services wired behind the API.
var _ Migrator = (*migrate.Service)(nil)
