// Package cli implements bastionctl, the administration tool for roles
// and permissions.
//
// # Commands
//
// migrate: apply schema migrations and create the built-in roles
//
//	bastionctl migrate --database-url postgres://localhost/bastion
//
// seed: create or update roles from a YAML file, optionally watching it
//
//	bastionctl seed --file roles.yaml --defaults
//	bastionctl seed --file roles.yaml --watch
//
// roles: list roles, or the roles held by one user
//
//	bastionctl roles --json
//	bastionctl roles --user 42
//
// permissions: print the permission catalog grouped by domain
//
// check: test a user against one or more permissions. Exits non-zero when
// the check fails.
//
//	bastionctl check --user 42 --permission roles.assign,users.view
//	bastionctl check --user 42 --any --permission billing.view,billing.manage
//
// stats: role, assignment and super-admin counts
//
// Every database command reads BASTION_DATABASE_URL when --database-url is
// not given.
package cli
