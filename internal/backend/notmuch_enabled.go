//go:build !nonotmuch

package backend

const notmuchEnabled = true
