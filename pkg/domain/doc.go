// Package domain defines the shared types of the gateway: the error
// taxonomy, the JSON error model returned to clients, and the security
// decision produced by target validation.
package domain
