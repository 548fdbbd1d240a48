// Copyright 2025 James Ross
package extract

import (
	"archive/zip"
	"encoding/xml"
	"fmt"
	"io"
	"sort"
	"strings"
)

// OOXML formats (.docx/.pptx/.xlsx) are zip archives of XML parts. No
// available dependency targets OOXML parsing, so these extractors walk
// the zip and decode the relevant
// XML parts directly with archive/zip + encoding/xml (documented as a
// justified stdlib use in DESIGN.md).

type docxExtractor struct{}

func (docxExtractor) Format() string { return "docx" }

func (docxExtractor) Extract(path string) (Result, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrCorruptInput, err)
	}
	defer zr.Close()

	f, err := findZipFile(&zr.Reader, "word/document.xml")
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrCorruptInput, err)
	}
	paragraphs, err := extractWordParagraphs(f)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrCorruptInput, err)
	}

	return Result{
		Text:      strings.Join(paragraphs, "\n\n"),
		Structure: map[string]any{"paragraph_count": len(paragraphs)},
		Quality:   map[string]float64{"extraction_confidence": 1.0},
		Format:    "docx",
	}, nil
}

type pptxExtractor struct{}

func (pptxExtractor) Format() string { return "pptx" }

func (pptxExtractor) Extract(path string) (Result, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrCorruptInput, err)
	}
	defer zr.Close()

	var slideFiles []*zip.File
	for _, f := range zr.File {
		if strings.HasPrefix(f.Name, "ppt/slides/slide") && strings.HasSuffix(f.Name, ".xml") {
			slideFiles = append(slideFiles, f)
		}
	}
	if len(slideFiles) == 0 {
		return Result{}, fmt.Errorf("%w: no slides found", ErrCorruptInput)
	}
	sort.Slice(slideFiles, func(i, j int) bool { return slideFiles[i].Name < slideFiles[j].Name })

	slideTexts := make([]string, 0, len(slideFiles))
	for _, f := range slideFiles {
		lines, err := extractSlideText(f)
		if err != nil {
			return Result{}, fmt.Errorf("%w: %v", ErrCorruptInput, err)
		}
		slideTexts = append(slideTexts, strings.Join(lines, "\n"))
	}

	return Result{
		Text:      strings.Join(slideTexts, "\n\n"),
		Structure: map[string]any{"slide_count": len(slideFiles)},
		Quality:   map[string]float64{"extraction_confidence": 1.0},
		Format:    "pptx",
	}, nil
}

type xlsxExtractor struct{}

func (xlsxExtractor) Format() string { return "xlsx" }

func (xlsxExtractor) Extract(path string) (Result, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrCorruptInput, err)
	}
	defer zr.Close()

	shared, _ := findZipFile(&zr.Reader, "xl/sharedStrings.xml")
	var sharedStrings []string
	if shared != nil {
		sharedStrings, err = extractSharedStrings(shared)
		if err != nil {
			return Result{}, fmt.Errorf("%w: %v", ErrCorruptInput, err)
		}
	}

	var sheetFiles []*zip.File
	for _, f := range zr.File {
		if strings.HasPrefix(f.Name, "xl/worksheets/sheet") && strings.HasSuffix(f.Name, ".xml") {
			sheetFiles = append(sheetFiles, f)
		}
	}
	if len(sheetFiles) == 0 {
		return Result{}, fmt.Errorf("%w: no worksheets found", ErrCorruptInput)
	}
	sort.Slice(sheetFiles, func(i, j int) bool { return sheetFiles[i].Name < sheetFiles[j].Name })

	var rowCount int
	sheetTexts := make([]string, 0, len(sheetFiles))
	for _, f := range sheetFiles {
		rows, err := extractSheetRows(f, sharedStrings)
		if err != nil {
			return Result{}, fmt.Errorf("%w: %v", ErrCorruptInput, err)
		}
		rowCount += len(rows)
		sheetTexts = append(sheetTexts, strings.Join(rows, "\n"))
	}

	return Result{
		Text:      strings.Join(sheetTexts, "\n\n"),
		Structure: map[string]any{"sheet_count": len(sheetFiles), "row_count": rowCount},
		Quality:   map[string]float64{"extraction_confidence": 1.0},
		Format:    "xlsx",
	}, nil
}

func findZipFile(zr *zip.Reader, name string) (*zip.File, error) {
	for _, f := range zr.File {
		if f.Name == name {
			return f, nil
		}
	}
	return nil, fmt.Errorf("part %q not found in archive", name)
}

// Minimal WordprocessingML paragraph/run structures: we only need the
// text runs, not formatting.
type wordDocument struct {
	Body struct {
		Paragraphs []struct {
			Runs []struct {
				Text []struct {
					Value string `xml:",chardata"`
				} `xml:"t"`
			} `xml:"r"`
		} `xml:"p"`
	} `xml:"body"`
}

func extractWordParagraphs(f *zip.File) ([]string, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	raw, err := io.ReadAll(rc)
	if err != nil {
		return nil, err
	}
	var doc wordDocument
	if err := xml.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	var paragraphs []string
	for _, p := range doc.Body.Paragraphs {
		var sb strings.Builder
		for _, r := range p.Runs {
			for _, t := range r.Text {
				sb.WriteString(t.Value)
			}
		}
		paragraphs = append(paragraphs, sb.String())
	}
	return paragraphs, nil
}

type slideShapeTree struct {
	Shapes []struct {
		TextBody struct {
			Paragraphs []struct {
				Runs []struct {
					Text string `xml:"t"`
				} `xml:"r"`
			} `xml:"p"`
		} `xml:"txBody"`
	} `xml:"sp"`
}

type slideXML struct {
	CSld struct {
		ShapeTree slideShapeTree `xml:"spTree"`
	} `xml:"cSld"`
}

func extractSlideText(f *zip.File) ([]string, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	raw, err := io.ReadAll(rc)
	if err != nil {
		return nil, err
	}
	var slide slideXML
	if err := xml.Unmarshal(raw, &slide); err != nil {
		return nil, err
	}
	var lines []string
	for _, shape := range slide.CSld.ShapeTree.Shapes {
		for _, p := range shape.TextBody.Paragraphs {
			var sb strings.Builder
			for _, r := range p.Runs {
				sb.WriteString(r.Text)
			}
			if sb.Len() > 0 {
				lines = append(lines, sb.String())
			}
		}
	}
	return lines, nil
}

type sharedStringsXML struct {
	Items []struct {
		Text  string `xml:"t"`
		Runs  []struct {
			Text string `xml:"t"`
		} `xml:"r"`
	} `xml:"si"`
}

func extractSharedStrings(f *zip.File) ([]string, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	raw, err := io.ReadAll(rc)
	if err != nil {
		return nil, err
	}
	var shared sharedStringsXML
	if err := xml.Unmarshal(raw, &shared); err != nil {
		return nil, err
	}
	out := make([]string, len(shared.Items))
	for i, item := range shared.Items {
		if item.Text != "" {
			out[i] = item.Text
			continue
		}
		var sb strings.Builder
		for _, r := range item.Runs {
			sb.WriteString(r.Text)
		}
		out[i] = sb.String()
	}
	return out, nil
}

type worksheetXML struct {
	SheetData struct {
		Rows []struct {
			Cells []struct {
				Type  string `xml:"t,attr"`
				Value string `xml:"v"`
			} `xml:"c"`
		} `xml:"row"`
	} `xml:"sheetData"`
}

func extractSheetRows(f *zip.File, sharedStrings []string) ([]string, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	raw, err := io.ReadAll(rc)
	if err != nil {
		return nil, err
	}
	var sheet worksheetXML
	if err := xml.Unmarshal(raw, &sheet); err != nil {
		return nil, err
	}
	rows := make([]string, 0, len(sheet.SheetData.Rows))
	for _, row := range sheet.SheetData.Rows {
		cells := make([]string, 0, len(row.Cells))
		for _, c := range row.Cells {
			if c.Type == "s" {
				if idx, err := parseSharedStringIndex(c.Value); err == nil && idx >= 0 && idx < len(sharedStrings) {
					cells = append(cells, sharedStrings[idx])
					continue
				}
			}
			cells = append(cells, c.Value)
		}
		rows = append(rows, strings.Join(cells, " | "))
	}
	return rows, nil
}

func parseSharedStringIndex(v string) (int, error) {
	var idx int
	_, err := fmt.Sscanf(v, "%d", &idx)
	return idx, err
}
