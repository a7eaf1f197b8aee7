//go:build calltracer_debug

package calltracer

const strictInvariants = true
