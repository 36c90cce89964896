package domainerrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/suite"
)

type DomainErrorsSuite struct {
	suite.Suite
}

func TestDomainErrorsSuite(t *testing.T) {
	suite.Run(t, new(DomainErrorsSuite))
}

func (s *DomainErrorsSuite) TestMessageFallsBackToCode() {
	s.Equal("unknown consent category: tracking", New(CodeValidation, "unknown consent category: tracking").Error())
	s.Equal("unavailable", (&Error{Code: CodeUnavailable}).Error())
}

func (s *DomainErrorsSuite) TestWrapKeepsInnerCode() {
	cases := map[string]struct {
		inner error
		given Code
		want  Code
	}{
		"plain error takes given code": {
			inner: errors.New("dial tcp: connection refused"),
			given: CodeUnavailable,
			want:  CodeUnavailable,
		},
		"coded error keeps its code": {
			inner: New(CodeNotFound, "no user consent"),
			given: CodeInternal,
			want:  CodeNotFound,
		},
		"code survives fmt wrapping": {
			inner: fmt.Errorf("store: %w", New(CodeValidation, "missing version")),
			given: CodeInternal,
			want:  CodeValidation,
		},
	}
	for name, tc := range cases {
		s.Run(name, func() {
			err := Wrap(tc.inner, tc.given, "save user consent")
			s.Equal(tc.want, CodeOf(err))
			s.Equal("save user consent", err.Error())
			s.ErrorIs(err, tc.inner)
		})
	}
}

func (s *DomainErrorsSuite) TestErrorsIsMatchesByCode() {
	err := Wrap(New(CodeNotFound, "record gone"), CodeInternal, "read")

	s.ErrorIs(err, &Error{Code: CodeNotFound})
	s.NotErrorIs(err, &Error{Code: CodeForbidden})
	s.NotErrorIs(err, errors.New("record gone"))
}

func (s *DomainErrorsSuite) TestHasCode() {
	remote := Wrap(errors.New("503"), CodeUnavailable, "remote consent sync failed")

	s.True(HasCode(remote, CodeUnavailable))
	s.False(HasCode(remote, CodeInternal))
	s.False(HasCode(errors.New("plain"), CodeInternal))
	s.False(HasCode(nil, CodeNotFound))
}

func (s *DomainErrorsSuite) TestCodeOfUncodedIsInternal() {
	s.Equal(CodeInternal, CodeOf(errors.New("boom")))
	s.Equal(CodeInternal, CodeOf(nil))
	s.Equal(CodeUnauthorized, CodeOf(New(CodeUnauthorized, "sign in required")))
}
