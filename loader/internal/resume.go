package internal

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"klaus/types"
)

// ResumeFactID is the id of the fact pointing at the published résumé.
const ResumeFactID = "kb:resume-0"

// InspectResume validates Resume.pdf in dataDir and returns a fact telling
// where it can be downloaded. ok is false when there is no résumé.
func InspectResume(dataDir, siteBase string) (fact types.Fact, ok bool, err error) {
	path := filepath.Join(dataDir, types.ResumePDF)
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return types.Fact{}, false, nil
		}
		return types.Fact{}, false, err
	}

	if err := api.ValidateFile(path, model.NewDefaultConfiguration()); err != nil {
		return types.Fact{}, false, fmt.Errorf("invalid %s: %w", types.ResumePDF, err)
	}
	pages, err := api.PageCountFile(path)
	if err != nil {
		return types.Fact{}, false, fmt.Errorf("failed to count pages of %s: %w", types.ResumePDF, err)
	}
	return ResumeFact(pages, ResumeURL(siteBase)), true, nil
}

// ResumeURL is where the site serves the résumé. An empty base gives the
// site-relative path.
func ResumeURL(siteBase string) string {
	return strings.TrimRight(siteBase, "/") + "/" + types.ResumePDF
}

func ResumeFact(pages int, url string) types.Fact {
	return types.Fact{
		ID:   ResumeFactID,
		Text: fmt.Sprintf("My résumé (%d pages) is available at %s", pages, url),
	}
}
