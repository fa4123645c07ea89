//go:build rp2040 && uart

package main

func init() {
	mode.Link = LinkUART
}
