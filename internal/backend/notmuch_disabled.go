//go:build nonotmuch

package backend

const notmuchEnabled = false
