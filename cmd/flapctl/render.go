package main

import (
	"fmt"
	"io"
	"strconv"

	"github.com/olekukonko/tablewriter"
)

func renderFrames(w io.Writer, rows []frameRow) {
	tw := tablewriter.NewWriter(w)
	tw.SetHeader([]string{"#", "Kind", "Chan", "Seq", "Len", "Family", "Subtype", "Flags", "ReqID"})
	tw.SetBorder(true)
	tw.SetAutoWrapText(false)

	for _, row := range rows {
		family, subtype, flags, reqID := "-", "-", "-", "-"
		if row.SNAC {
			family = fmt.Sprintf("0x%04x", row.Family)
			subtype = fmt.Sprintf("0x%04x", row.Subtype)
			flags = fmt.Sprintf("0x%04x", row.Flags)
			reqID = strconv.FormatUint(uint64(row.RequestID), 10)
		}
		tw.Append([]string{
			strconv.Itoa(row.Index),
			row.Kind,
			fmt.Sprintf("0x%02x", row.Channel),
			strconv.Itoa(int(row.Sequence)),
			strconv.Itoa(row.Length),
			family,
			subtype,
			flags,
			reqID,
		})
	}
	tw.Render()
}

func renderSummary(w io.Writer, rep *report) {
	tw := tablewriter.NewWriter(w)
	tw.SetHeader([]string{"Family", "Subtype", "Frames", "Bytes"})
	tw.SetBorder(true)
	for _, c := range rep.Counts {
		tw.Append([]string{
			fmt.Sprintf("0x%04x", c.Family),
			fmt.Sprintf("0x%04x", c.Subtype),
			strconv.Itoa(c.Frames),
			strconv.Itoa(c.Bytes),
		})
	}
	tw.SetFooter([]string{"", "unclaimed", strconv.Itoa(rep.Unclaimed), ""})
	tw.Render()

	fmt.Fprintf(w, "session %s: %d frames, flap version %d", rep.SessionID, len(rep.Frames), rep.FlapVersion)
	if rep.SignOffCode != 0 {
		fmt.Fprintf(w, ", sign-off code 0x%04x", rep.SignOffCode)
	}
	fmt.Fprintln(w)
}
