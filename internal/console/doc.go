// Package console prints decoded BLD frames in the classic bldDecode text form.
package console
