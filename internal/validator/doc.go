// Package validator implements the stateful accept/reject rules for BLD records.
package validator
