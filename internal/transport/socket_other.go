//go:build !unix

package transport

func isConnRefused(error) bool { return false }
