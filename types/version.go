//nolint:revive // types is a common Go package naming convention
package types

// Version is the canonical project version, shared by the CLI and the
// HTTP API so that deployments can be identified from either surface.
const Version = "0.3.0"
