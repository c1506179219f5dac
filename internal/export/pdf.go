/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

// Package export renders scripts as printable read-through documents.
package export

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/jung-kurt/gofpdf"

	"gonovel/internal/compiler"
	"gonovel/internal/script"
	"gonovel/internal/storage"
	"gonovel/internal/vars"
)

// Color is an RGB triple.
type Color struct{ R, G, B int }

// PDFOptions controls PDF export. Units are points.
// Core Helvetica is used so no font files are needed; text is translated to cp1252.
type PDFOptions struct {
	Title      string
	Author     string
	PageSize   string  // "A4" (default), "Letter", "A5"
	FontSize   float64 // body size, default 11
	ShowIndex  bool    // prefix each row with its action index
	ShowStage  bool    // include staging commands (char, bg, var, ...)
	LabelColor Color   // default dark blue
}

func (o PDFOptions) withDefaults() PDFOptions {
	if o.PageSize == "" {
		o.PageSize = "A4"
	}
	if o.FontSize <= 0 {
		o.FontSize = 11
	}
	if o.LabelColor == (Color{}) {
		o.LabelColor = Color{R: 20, G: 40, B: 140}
	}
	return o
}

type pdfWriter struct {
	pdf   *gofpdf.Fpdf
	tr    func(string) string
	opt   PDFOptions
	store *vars.Store
}

func newPDFWriter(opt PDFOptions, store *vars.Store) *pdfWriter {
	opt = opt.withDefaults()
	pdf := gofpdf.New("P", "pt", opt.PageSize, "")
	pdf.SetMargins(48, 48, 48)
	pdf.SetAutoPageBreak(true, 48)
	w := &pdfWriter{pdf: pdf, tr: pdf.UnicodeTranslatorFromDescriptor(""), opt: opt, store: store}
	if opt.Title != "" {
		pdf.SetTitle(opt.Title, true)
	}
	pdf.SetAuthor(firstNonEmpty(opt.Author, "gonovel"), true)
	pdf.SetCreator("gonovel", true)
	return w
}

func (w *pdfWriter) text(s string) string {
	if w.store != nil {
		s = w.store.Interpolate(s)
	}
	return w.tr(s)
}

func (w *pdfWriter) row(idx int, style string, c Color, body string) {
	w.pdf.SetTextColor(c.R, c.G, c.B)
	w.pdf.SetFont("Helvetica", style, w.opt.FontSize)
	if w.opt.ShowIndex {
		body = fmt.Sprintf("%4d  %s", idx, body)
	}
	w.pdf.MultiCell(0, w.opt.FontSize*1.35, body, "", "L", false)
}

// script renders one parsed script on a new page.
func (w *pdfWriter) script(id string, parsed script.Parsed) {
	w.pdf.AddPage()
	w.pdf.SetFont("Helvetica", "B", w.opt.FontSize+5)
	w.pdf.SetTextColor(0, 0, 0)
	w.pdf.CellFormat(0, (w.opt.FontSize+5)*1.6, w.tr(id), "B", 1, "L", false, 0, "")
	w.pdf.Ln(6)

	black := Color{}
	grey := Color{R: 110, G: 110, B: 110}
	speaker := ""
	for i, cmd := range parsed.Commands {
		switch cmd.Type {
		case "label":
			w.pdf.Ln(4)
			w.row(i, "B", w.opt.LabelColor, w.tr("# "+cmd.Param("content")))
		case "spk":
			speaker = cmd.ParamOr("name", "content")
		case "msg":
			body := w.text(cmd.Param("content"))
			if speaker != "" {
				body = w.text(speaker) + ": " + body
			}
			w.row(i, "", black, body)
		case "choices":
			for _, ch := range cmd.Choices {
				target := ch.Goto
				if idx, ok := parsed.Labels[ch.Goto]; ok {
					target = fmt.Sprintf("%s (%d)", ch.Goto, idx)
				}
				w.row(i, "I", black, "   > "+w.text(ch.Content)+"  -> "+w.tr(target))
			}
		case "goto":
			w.row(i, "I", w.opt.LabelColor, w.tr("-> "+cmd.Param("content")))
		case "script", "scene":
			w.row(i, "B", w.opt.LabelColor, w.tr("=> "+cmd.ParamOr("file", "content")))
		default:
			if w.opt.ShowStage {
				w.row(i, "", grey, w.tr(stageLine(cmd)))
			}
		}
	}
}

// stageLine formats a staging command as [tag k=v ...] with sorted keys.
func stageLine(cmd script.Command) string {
	keys := make([]string, 0, len(cmd.Params))
	for k := range cmd.Params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString("[" + cmd.Type)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%s", k, cmd.Params[k])
	}
	b.WriteString("]")
	return b.String()
}

func (w *pdfWriter) save(outPath string) error {
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return fmt.Errorf("ensure out dir: %w", err)
	}
	if err := w.pdf.OutputFileAndClose(outPath); err != nil {
		return fmt.Errorf("write pdf: %w", err)
	}
	return nil
}

// ScriptPDF writes a read-through of one script to outPath. Placeholders are
// expanded from store when it is non-nil.
func ScriptPDF(id string, parsed script.Parsed, store *vars.Store, outPath string, opt PDFOptions) error {
	if outPath == "" {
		return errors.New("output path is required")
	}
	if opt.Title == "" {
		opt.Title = id
	}
	w := newPDFWriter(opt, store)
	w.script(id, parsed)
	return w.save(outPath)
}

// StoryPDF writes every script of the story, in manifest order, into one PDF.
// Scripts must compile. A relative outPath is placed in the story's exports folder.
func StoryPDF(h *storage.StoryHandle, store *vars.Store, outPath string, opt PDFOptions) (string, error) {
	if h == nil {
		return "", errors.New("story handle is nil")
	}
	if opt.Title == "" {
		opt.Title = h.Story.Name
	}
	if opt.Author == "" {
		opt.Author = h.Story.Metadata.Author
	}
	w := newPDFWriter(opt, store)
	for _, ref := range h.Story.Scripts {
		src, err := storage.ReadScript(h, ref.ID)
		if err != nil {
			return "", err
		}
		parsed, _ := script.Parse(src)
		if _, err := compiler.Compile(ref.ID, parsed.Commands, parsed.Labels); err != nil {
			return "", fmt.Errorf("script %s: %w", ref.ID, err)
		}
		w.script(firstNonEmpty(ref.Title, ref.ID), parsed)
	}
	if !filepath.IsAbs(outPath) {
		outPath = filepath.Join(h.Root, storage.ExportsDirName, outPath)
	}
	if err := w.save(outPath); err != nil {
		return "", err
	}
	return outPath, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
