//go:build !noimap

package backend

const imapEnabled = true
