package handler

import (
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"schoolbook/internal/apperr"
	"schoolbook/internal/attendance"
	"schoolbook/internal/audit"
	"schoolbook/internal/auth"
	"schoolbook/internal/cloudinary"
	"schoolbook/internal/config"
	"schoolbook/internal/records"
	"schoolbook/internal/users"
)

// Handler wires the domain services to the HTTP API.
type Handler struct {
	cfg     config.App
	records *records.Service
	audits  *audit.Service
	ledger  *attendance.Ledger
	users   *users.Service
	uploads *cloudinary.Client
}

// New creates a handler. uploads may be nil when Cloudinary is not
// configured; profile pictures are then stored inline.
func New(cfg config.App, rec *records.Service, aud *audit.Service, led *attendance.Ledger, usr *users.Service, uploads *cloudinary.Client) *Handler {
	return &Handler{cfg: cfg, records: rec, audits: aud, ledger: led, users: usr, uploads: uploads}
}

// Register mounts all routes on the engine.
func (h *Handler) Register(r *gin.Engine) {
	api := r.Group("/api")

	api.POST("/login", h.login)
	api.POST("/student/login", h.studentLogin)

	authed := api.Group("")
	authed.Use(auth.RequireAuth(h.cfg.JWTSigningKey, h.cfg.JWTIssuer))
	{
		authed.POST("/logout", h.logout)
		authed.GET("/whoami", h.whoami)
		authed.GET("/classes", h.classes)

		staff := authed.Group("")
		staff.Use(auth.RequireRole(audit.RoleTeacher, audit.RolePrincipal))
		{
			staff.GET("/students", h.listStudents)
			staff.POST("/students", h.addStudent)
			staff.PUT("/students/:id", h.editStudent)
			staff.DELETE("/students/:id", h.deleteStudent)

			staff.GET("/deleted_students", h.listDeletedStudents)
			staff.POST("/deleted_students/:id/recover", h.recoverStudent)
			staff.DELETE("/deleted_students/:id", h.permaDeleteStudent)

			staff.GET("/log", h.listLog)
			staff.POST("/undo_edit/:logIndex", h.undoEdit)
			staff.POST("/clear_all", h.clearAll)
			staff.POST("/recover_all", h.recoverAll)
			staff.GET("/clear_log", h.lastLogClear)
			staff.POST("/clear_log", h.clearLog)

			staff.POST("/attendance/verify/:roll", h.verifyAttendance)
			staff.POST("/attendance/override/:roll", h.overrideAttendance)
			staff.POST("/attendance/request-new/:roll", h.requestNewImage)
			staff.GET("/attendance/attempts/:roll", h.attendanceAttempts)
			staff.GET("/attendance/image/:date/:roll", h.attendanceImage)

			staff.GET("/teachers", h.listTeachers)
			staff.POST("/teachers", h.addTeacher)
			staff.DELETE("/teachers/:username", h.deleteTeacher)
			staff.PUT("/teachers/:username/change_password", h.changeTeacherPassword)

			staff.GET("/teacher/students", h.teacherRoster)
			staff.PUT("/teacher/students/:id", h.updateMarks)
		}

		student := authed.Group("")
		student.Use(auth.RequireRole(audit.RoleStudent))
		{
			student.POST("/student/attendance", h.submitAttendance)
			student.GET("/student/attendance", h.attendanceHistory)
			student.GET("/student/grades", h.studentGrades)
			student.POST("/student/profile_picture", h.uploadProfilePicture)
		}

		authed.GET("/student/attendance/calendar/:roll", h.attendanceCalendar)
		authed.GET("/student/profile_picture/:roll", h.profilePicture)
	}
}

func respondErr(c *gin.Context, err error) {
	status := apperr.HTTPStatus(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		log.Printf("%s %s failed: %v", c.Request.Method, c.FullPath(), err)
		msg = "internal error"
	}
	c.JSON(status, gin.H{"error": msg})
}

func today() string {
	return time.Now().UTC().Format(attendance.DateFormat)
}

// dateOrToday validates an optional YYYY-MM-DD value.
func dateOrToday(raw string) (string, error) {
	if raw == "" {
		return today(), nil
	}
	if _, err := time.Parse(attendance.DateFormat, raw); err != nil {
		return "", apperr.Validation("date must be YYYY-MM-DD")
	}
	return raw, nil
}

func rollParam(c *gin.Context) (int, error) {
	roll, err := strconv.Atoi(c.Param("roll"))
	if err != nil || roll <= 0 {
		return 0, apperr.Validation("invalid roll number")
	}
	return roll, nil
}

// --- sessions ---

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (h *Handler) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondErr(c, apperr.Validation("invalid request body"))
		return
	}
	u, err := h.users.Authenticate(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		respondErr(c, err)
		return
	}
	pair, err := auth.Issue(u.Username, u.Role, 0, h.cfg.JWTIssuer, h.cfg.JWTSigningKey, h.cfg.AccessTTL, h.cfg.RefreshTTL)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"token":         pair.AccessToken,
		"refresh_token": pair.RefreshToken,
		"expires_at":    pair.AccessExp,
		"username":      u.Username,
		"role":          u.Role,
		"class":         u.Class,
	})
}

type studentLoginRequest struct {
	FirstName string `json:"first_name"`
	Password  string `json:"password"`
}

func (h *Handler) studentLogin(c *gin.Context) {
	var req studentLoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondErr(c, apperr.Validation("invalid request body"))
		return
	}
	st, err := h.records.AuthenticateStudent(c.Request.Context(), req.FirstName, req.Password)
	if err != nil {
		respondErr(c, err)
		return
	}
	pair, err := auth.Issue(st.Name, audit.RoleStudent, st.Roll, h.cfg.JWTIssuer, h.cfg.JWTSigningKey, h.cfg.AccessTTL, h.cfg.RefreshTTL)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"token":      pair.AccessToken,
		"expires_at": pair.AccessExp,
		"role":       audit.RoleStudent,
		"student":    st,
	})
}

func (h *Handler) logout(c *gin.Context) {
	// Tokens are stateless; the client drops its copy.
	c.JSON(http.StatusOK, gin.H{"message": "logged out"})
}

func (h *Handler) whoami(c *gin.Context) {
	claims, _ := auth.ClaimsFrom(c)
	resp := gin.H{"username": claims.Subject, "role": claims.Role}
	if claims.Role == audit.RoleStudent {
		resp["roll"] = claims.Roll
	}
	if claims.Role == audit.RoleTeacher {
		if class, err := h.users.TeacherClass(c.Request.Context(), claims.Subject); err == nil {
			resp["class"] = class
		}
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) classes(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"classes": records.Classes})
}

// --- student records ---

func (h *Handler) listStudents(c *gin.Context) {
	students, err := h.records.Students(c.Request.Context())
	if err != nil {
		respondErr(c, err)
		return
	}
	if students == nil {
		students = []records.Student{}
	}
	c.JSON(http.StatusOK, gin.H{"students": students})
}

func (h *Handler) addStudent(c *gin.Context) {
	var in records.StudentInput
	if err := c.ShouldBindJSON(&in); err != nil {
		respondErr(c, apperr.Validation("invalid request body"))
		return
	}
	st, err := h.records.AddStudent(c.Request.Context(), in, auth.ActorFrom(c))
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"student": st})
}

func (h *Handler) editStudent(c *gin.Context) {
	var in records.StudentInput
	if err := c.ShouldBindJSON(&in); err != nil {
		respondErr(c, apperr.Validation("invalid request body"))
		return
	}
	st, err := h.records.EditStudent(c.Request.Context(), c.Param("id"), in, auth.ActorFrom(c))
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"student": st})
}

func (h *Handler) deleteStudent(c *gin.Context) {
	if err := h.records.DeleteStudent(c.Request.Context(), c.Param("id"), auth.ActorFrom(c)); err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "student deleted"})
}

func (h *Handler) listDeletedStudents(c *gin.Context) {
	students, err := h.records.DeletedStudents(c.Request.Context())
	if err != nil {
		respondErr(c, err)
		return
	}
	if students == nil {
		students = []records.Student{}
	}
	c.JSON(http.StatusOK, gin.H{"deleted_students": students})
}

func (h *Handler) recoverStudent(c *gin.Context) {
	st, err := h.records.RecoverStudent(c.Request.Context(), c.Param("id"), auth.ActorFrom(c))
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"student": st})
}

func (h *Handler) permaDeleteStudent(c *gin.Context) {
	if err := h.records.PermaDeleteStudent(c.Request.Context(), c.Param("id"), auth.ActorFrom(c)); err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "student permanently deleted"})
}

func (h *Handler) clearAll(c *gin.Context) {
	if err := h.records.ClearAll(c.Request.Context(), auth.ActorFrom(c)); err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "all students cleared"})
}

func (h *Handler) recoverAll(c *gin.Context) {
	if err := h.records.RecoverAll(c.Request.Context(), auth.ActorFrom(c)); err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "all students recovered"})
}

// --- audit log ---

func (h *Handler) listLog(c *gin.Context) {
	entries, err := h.audits.Entries(c.Request.Context())
	if err != nil {
		respondErr(c, err)
		return
	}
	if entries == nil {
		entries = []audit.Entry{}
	}
	c.JSON(http.StatusOK, gin.H{"log": entries})
}

func (h *Handler) undoEdit(c *gin.Context) {
	idx, err := strconv.Atoi(c.Param("logIndex"))
	if err != nil {
		respondErr(c, apperr.Validation("invalid log index"))
		return
	}
	st, err := h.records.UndoEdit(c.Request.Context(), idx, auth.ActorFrom(c))
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"student": st})
}

func (h *Handler) clearLog(c *gin.Context) {
	if err := h.audits.Clear(c.Request.Context(), auth.ActorFrom(c)); err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "data log cleared"})
}

func (h *Handler) lastLogClear(c *gin.Context) {
	marker, err := h.audits.LastClear(c.Request.Context())
	if err != nil {
		respondErr(c, err)
		return
	}
	if marker == nil {
		c.JSON(http.StatusOK, gin.H{"cleared": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{"cleared": true, "clearedBy": marker.ClearedBy, "clearedAt": marker.ClearedAt})
}

// --- attendance ---

type attendanceSubmitRequest struct {
	ImageData string `json:"image_data"`
	Date      string `json:"date"`
}

func (h *Handler) submitAttendance(c *gin.Context) {
	claims, _ := auth.ClaimsFrom(c)
	var req attendanceSubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondErr(c, apperr.Validation("invalid request body"))
		return
	}
	date, err := dateOrToday(req.Date)
	if err != nil {
		respondErr(c, err)
		return
	}
	verdict, rec, err := h.ledger.SubmitAttempt(c.Request.Context(), claims.Roll, date, req.ImageData, auth.ActorFrom(c))
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"verification_result": verdict,
		"attendance":          rec,
	})
}

func (h *Handler) attendanceHistory(c *gin.Context) {
	claims, _ := auth.ClaimsFrom(c)
	days := 30
	if raw := c.Query("days"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			days = n
		}
	}
	recs, err := h.ledger.History(c.Request.Context(), claims.Roll, days)
	if err != nil {
		respondErr(c, err)
		return
	}
	if recs == nil {
		recs = []attendance.Record{}
	}
	pct, err := h.ledger.AttendancePercentage(c.Request.Context(), claims.Roll, days)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"attendance": recs, "percentage": pct})
}

type attendanceDateRequest struct {
	Date string `json:"date"`
}

func (h *Handler) verifyAttendance(c *gin.Context) {
	roll, err := rollParam(c)
	if err != nil {
		respondErr(c, err)
		return
	}
	var req attendanceDateRequest
	_ = c.ShouldBindJSON(&req)
	date, err := dateOrToday(req.Date)
	if err != nil {
		respondErr(c, err)
		return
	}
	rec, err := h.ledger.Verify(c.Request.Context(), roll, date, auth.ActorFrom(c))
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"attendance": rec})
}

type overrideRequest struct {
	Date   string `json:"date"`
	Status string `json:"status"`
}

func (h *Handler) overrideAttendance(c *gin.Context) {
	roll, err := rollParam(c)
	if err != nil {
		respondErr(c, err)
		return
	}
	var req overrideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondErr(c, apperr.Validation("invalid request body"))
		return
	}
	date, err := dateOrToday(req.Date)
	if err != nil {
		respondErr(c, err)
		return
	}
	rec, err := h.ledger.Override(c.Request.Context(), roll, date, req.Status, auth.ActorFrom(c))
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"attendance": rec})
}

func (h *Handler) requestNewImage(c *gin.Context) {
	roll, err := rollParam(c)
	if err != nil {
		respondErr(c, err)
		return
	}
	var req attendanceDateRequest
	_ = c.ShouldBindJSON(&req)
	date, err := dateOrToday(req.Date)
	if err != nil {
		respondErr(c, err)
		return
	}
	if err := h.ledger.RequestNewImage(c.Request.Context(), roll, date, auth.ActorFrom(c)); err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "new image requested"})
}

func (h *Handler) attendanceAttempts(c *gin.Context) {
	roll, err := rollParam(c)
	if err != nil {
		respondErr(c, err)
		return
	}
	date, err := dateOrToday(c.Query("date"))
	if err != nil {
		respondErr(c, err)
		return
	}
	rec, err := h.ledger.Attempts(c.Request.Context(), roll, date)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"attempts_remaining": rec.AttemptsRemaining,
		"final_status":       rec.FinalStatus,
		"attempt_history":    rec.AttemptHistory,
	})
}

func (h *Handler) attendanceImage(c *gin.Context) {
	roll, err := rollParam(c)
	if err != nil {
		respondErr(c, err)
		return
	}
	date, err := dateOrToday(c.Param("date"))
	if err != nil {
		respondErr(c, err)
		return
	}
	img, err := h.ledger.Image(c.Request.Context(), roll, date)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"image_data": img, "date": date})
}

func (h *Handler) attendanceCalendar(c *gin.Context) {
	roll, err := rollParam(c)
	if err != nil {
		respondErr(c, err)
		return
	}
	claims, _ := auth.ClaimsFrom(c)
	if claims.Role == audit.RoleStudent && claims.Roll != roll {
		respondErr(c, apperr.Permission("students can only view their own calendar"))
		return
	}
	now := time.Now().UTC()
	year := now.Year()
	// zero-based month, as sent by the calendar widget
	month := int(now.Month()) - 1
	if raw := c.Query("year"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			year = n
		}
	}
	if raw := c.Query("month"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			month = n
		}
	}
	present, uploaded, err := h.ledger.Calendar(c.Request.Context(), roll, year, month)
	if err != nil {
		respondErr(c, err)
		return
	}
	if present == nil {
		present = []string{}
	}
	if uploaded == nil {
		uploaded = []string{}
	}
	c.JSON(http.StatusOK, gin.H{"present_dates": present, "uploaded_dates": uploaded})
}

// --- grades ---

func (h *Handler) studentGrades(c *gin.Context) {
	claims, _ := auth.ClaimsFrom(c)
	st, err := h.records.StudentByRoll(c.Request.Context(), claims.Roll)
	if err != nil {
		respondErr(c, err)
		return
	}
	if st == nil {
		respondErr(c, apperr.NotFound("student not found"))
		return
	}
	summary := records.Summarize(st.Marks)
	c.JSON(http.StatusOK, gin.H{
		"marks":         st.Marks,
		"grades":        summary.Grades,
		"average_marks": summary.AverageMarks,
		"overall_grade": summary.OverallGrade,
	})
}

// --- teacher views ---

func (h *Handler) teacherRoster(c *gin.Context) {
	claims, _ := auth.ClaimsFrom(c)
	ctx := c.Request.Context()

	var students []records.Student
	var err error
	if claims.Role == audit.RolePrincipal {
		students, err = h.records.Students(ctx)
	} else {
		class, cerr := h.users.TeacherClass(ctx, claims.Subject)
		if cerr != nil {
			respondErr(c, cerr)
			return
		}
		students, err = h.records.ClassStudents(ctx, class)
	}
	if err != nil {
		respondErr(c, err)
		return
	}

	date := today()
	out := make([]gin.H, 0, len(students))
	for _, st := range students {
		summary := records.Summarize(st.Marks)
		rec, err := h.ledger.Attempts(ctx, st.Roll, date)
		if err != nil {
			respondErr(c, err)
			return
		}
		pct, err := h.ledger.AttendancePercentage(ctx, st.Roll, 30)
		if err != nil {
			respondErr(c, err)
			return
		}
		out = append(out, gin.H{
			"student":               st,
			"grades":                summary.Grades,
			"average_marks":         summary.AverageMarks,
			"overall_grade":         summary.OverallGrade,
			"attendance_today":      rec.FinalStatus,
			"attendance_percentage": pct,
		})
	}
	c.JSON(http.StatusOK, gin.H{"students": out})
}

type marksRequest struct {
	Marks records.Marks `json:"marks"`
}

func (h *Handler) updateMarks(c *gin.Context) {
	claims, _ := auth.ClaimsFrom(c)
	var req marksRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondErr(c, apperr.Validation("invalid request body"))
		return
	}

	var teacherClass string
	if claims.Role == audit.RoleTeacher {
		class, err := h.users.TeacherClass(c.Request.Context(), claims.Subject)
		if err != nil {
			respondErr(c, err)
			return
		}
		teacherClass = class
	}
	st, err := h.records.UpdateMarks(c.Request.Context(), c.Param("id"), req.Marks, auth.ActorFrom(c), teacherClass)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"student": st})
}

// --- teacher accounts ---

func (h *Handler) listTeachers(c *gin.Context) {
	teachers, err := h.users.Teachers(c.Request.Context(), auth.ActorFrom(c))
	if err != nil {
		respondErr(c, err)
		return
	}
	if teachers == nil {
		teachers = []users.User{}
	}
	c.JSON(http.StatusOK, gin.H{"teachers": teachers})
}

type addTeacherRequest struct {
	Username string `json:"username"`
	Class    string `json:"class"`
	Password string `json:"password"`
}

func (h *Handler) addTeacher(c *gin.Context) {
	var req addTeacherRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondErr(c, apperr.Validation("invalid request body"))
		return
	}
	u, err := h.users.AddTeacher(c.Request.Context(), req.Username, req.Class, req.Password, auth.ActorFrom(c))
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"teacher": u})
}

func (h *Handler) deleteTeacher(c *gin.Context) {
	if err := h.users.DeleteTeacher(c.Request.Context(), c.Param("username"), auth.ActorFrom(c)); err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "teacher deleted"})
}

type changePasswordRequest struct {
	NewPassword string `json:"new_password"`
}

func (h *Handler) changeTeacherPassword(c *gin.Context) {
	var req changePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondErr(c, apperr.Validation("invalid request body"))
		return
	}
	if err := h.users.ChangePassword(c.Request.Context(), c.Param("username"), req.NewPassword, auth.ActorFrom(c)); err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "password changed"})
}

// --- profile pictures ---

type profilePictureRequest struct {
	ImageData string `json:"image_data"`
}

func (h *Handler) uploadProfilePicture(c *gin.Context) {
	claims, _ := auth.ClaimsFrom(c)
	var req profilePictureRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondErr(c, apperr.Validation("invalid request body"))
		return
	}

	data := req.ImageData
	if h.uploads.Enabled() {
		res, err := h.uploads.UploadBase64(data)
		if err != nil {
			log.Printf("profile picture upload failed for roll %d: %v", claims.Roll, err)
		} else {
			data = res.SecureURL
		}
	}
	if err := h.records.SetProfilePicture(c.Request.Context(), claims.Roll, data); err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "profile picture updated"})
}

func (h *Handler) profilePicture(c *gin.Context) {
	roll, err := rollParam(c)
	if err != nil {
		respondErr(c, err)
		return
	}
	claims, _ := auth.ClaimsFrom(c)
	if claims.Role == audit.RoleStudent && claims.Roll != roll {
		respondErr(c, apperr.Permission("students can only view their own picture"))
		return
	}
	data, ok, err := h.records.ProfilePicture(c.Request.Context(), roll)
	if err != nil {
		respondErr(c, err)
		return
	}
	if !ok {
		respondErr(c, apperr.NotFound("profile picture not found"))
		return
	}
	c.JSON(http.StatusOK, gin.H{"profile_picture": data})
}
