package models

import (
	"testing"

	"donation-workflow-api/workflow"

	"gorm.io/datatypes"
)

func strPtr(s string) *string { return &s }

func TestAppendStageNeverOverwrites(t *testing.T) {
	m := AppendStage(nil, "doctor_review", "doc-1")
	m = AppendStage(m, "doctor_review", "doc-2")
	m2 := AppendStage(m, "doctor_review", "doc-3")

	if m["doctor_review"] != "doc-1" || m["doctor_review#2"] != "doc-2" {
		t.Fatalf("unexpected map %v", m)
	}
	if m2["doctor_review#3"] != "doc-3" {
		t.Fatalf("expected third entry under doctor_review#3, got %v", m2)
	}
	if _, leaked := m["doctor_review#3"]; leaked {
		t.Fatalf("AppendStage must not mutate its input")
	}
}

func TestDonationCaseCloneIsDeep(t *testing.T) {
	c := &DonationCase{
		ID:                   "case-1",
		SubjectRole:          workflow.RoleDonor,
		ContactEmail:         strPtr("donor@example.org"),
		ReviewedBy:           datatypes.NewJSONType(StageMap{"initial_doctor_review": "doc-1"}),
		LinkedAppointmentIDs: datatypes.JSONSlice[string]{"a-1"},
	}
	cp := c.Clone()
	cp.LinkedAppointmentIDs[0] = "changed"
	*cp.ContactEmail = "other@example.org"
	cp.ReviewedBy = datatypes.NewJSONType(AppendStage(cp.ReviewedByMap(), "x", "y"))

	if c.LinkedAppointmentIDs[0] != "a-1" || *c.ContactEmail != "donor@example.org" {
		t.Fatalf("clone shares memory with original: %+v", c)
	}
	if len(c.ReviewedByMap()) != 1 {
		t.Fatalf("clone shares reviewedBy map")
	}
	if !c.HasAppointment("a-1") || c.HasAppointment("changed") {
		t.Fatalf("HasAppointment returned wrong result")
	}
}

func TestParseAppointmentStatus(t *testing.T) {
	cases := map[string]AppointmentStatus{
		"":          AppointmentScheduled,
		"Confirmed": AppointmentScheduled,
		"done":      AppointmentCompleted,
		"canceled":  AppointmentCancelled,
	}
	for in, want := range cases {
		got, err := ParseAppointmentStatus(in)
		if err != nil || got != want {
			t.Fatalf("ParseAppointmentStatus(%q) = %q, %v; want %q", in, got, err, want)
		}
	}
	if _, err := ParseAppointmentStatus("teleported"); err == nil {
		t.Fatalf("expected error for unknown appointment status")
	}
	if AppointmentScheduled.IsFinal() || !AppointmentCancelled.IsFinal() {
		t.Fatalf("IsFinal returned wrong result")
	}
}

func TestLegacyAppointmentRefs(t *testing.T) {
	l := &LegacyAppointment{
		Collection: LegacyCollectionDoctorAppointments,
		PatientID:  strPtr("case-9"),
		UserID:     strPtr("case-9"),
		DonorID:    strPtr("  "),
	}
	refs := l.SubjectRefs()
	if len(refs) != 1 || refs[0] != "case-9" {
		t.Fatalf("unexpected refs %v", refs)
	}
	if !l.References("case-9") || l.References("case-1") {
		t.Fatalf("References returned wrong result")
	}
	if role := l.ImpliedRole(); role != "" {
		t.Fatalf("doctor collection with patient id implies no role, got %q", role)
	}
	l.Collection = LegacyCollectionRecipientAppointments
	if role := l.ImpliedRole(); role != workflow.RoleRecipient {
		t.Fatalf("ImpliedRole = %q, want recipient", role)
	}

	padded := &LegacyAppointment{Collection: LegacyCollectionAppointments, DonorID: strPtr(" donor-3 "), RecipientID: strPtr("\t")}
	if role := padded.ImpliedRole(); role != workflow.RoleDonor {
		t.Fatalf("padded donor id: ImpliedRole = %q, want donor", role)
	}
}

func TestStepsFromRecords(t *testing.T) {
	records := []TransitionRecord{
		{FromStatus: workflow.StatusNone, ToStatus: workflow.StatusPending},
		{FromStatus: workflow.StatusPending, ToStatus: workflow.StatusDoctorApproved},
	}
	got, err := workflow.Replay(Steps(records))
	if err != nil || got != workflow.StatusDoctorApproved {
		t.Fatalf("Replay(Steps) = %q, %v", got, err)
	}
	if !records[1].SameEdge(workflow.StatusPending, workflow.StatusDoctorApproved) {
		t.Fatalf("SameEdge returned false")
	}
}
