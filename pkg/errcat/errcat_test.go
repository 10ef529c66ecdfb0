package errcat

import "testing"

func TestMessageFor(t *testing.T) {
	tests := []struct {
		code int
		want string
	}{
		{DivisionByZero, "Division by zero"},
		{TypeMismatch, "Type mismatch"},
		{ActionNotSupported, "Object doesn't support this action"},
		{SyntaxError, "Syntax error"},
		{ExpectedEnd, "Expected 'End'"},
		{IncludeNotFound, "Include file not found"},
		{InternalCompileFailure, "Internal compilation failure"},
		{0, Unknown},
		{99999, Unknown},
		{-42, Unknown},
	}
	for _, tt := range tests {
		if got := MessageFor(tt.code); got != tt.want {
			t.Errorf("MessageFor(%d) = %q, want %q", tt.code, got, tt.want)
		}
	}
}

func TestEveryNamedCodeIsKnown(t *testing.T) {
	codes := []int{
		InternalCompileFailure, IncludeNotFound, IncludeCycle,
		InvalidProcedureCall, Overflow, SubscriptOutOfRange, DivisionByZero, TypeMismatch,
		OutOfStackSpace, InternalError, FileNotFound, PermissionDenied, ObjectVariableNotSet,
		ObjectRequired, NoSuchMember, ActionNotSupported, WrongArgumentCount, VariableUndefined,
		SyntaxError, ExpectedEnd, ExpectedExpression, ExpectedStatement, UnterminatedString,
		UnterminatedComment, ExpectedEndOfStatement,
	}
	for _, c := range codes {
		if !Known(c) {
			t.Errorf("code %d has no message", c)
		}
	}
}

func TestIsCompilerCode(t *testing.T) {
	if !IsCompilerCode(SyntaxError) || IsCompilerCode(DivisionByZero) {
		t.Error("compiler range misclassified")
	}
}
