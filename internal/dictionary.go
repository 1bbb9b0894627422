package internal

// fieldDictionary maps common Thai form-field labels and label tokens to
// English identifier words. The dictionary is consulted before the network
// provider: hits are free, deterministic, and independent of provider
// availability. Keys are trimmed label tokens, values are snake_case-safe
// English words.
var fieldDictionary = map[string]string{
	"ชื่อ":          "name",
	"นามสกุล":       "surname",
	"ชื่อเต็ม":      "full_name",
	"ชื่อเล่น":      "nickname",
	"อายุ":          "age",
	"เพศ":           "gender",
	"วันเกิด":       "birth_date",
	"ที่อยู่":       "address",
	"จังหวัด":       "province",
	"อำเภอ":         "district",
	"ตำบล":          "subdistrict",
	"รหัสไปรษณีย์":  "postal_code",
	"เบอร์โทร":      "phone",
	"เบอร์โทรศัพท์": "phone_number",
	"โทรศัพท์":      "telephone",
	"อีเมล":         "email",
	"อีเมล์":        "email",
	"วันที่":        "date",
	"เวลา":          "time",
	"หมายเหตุ":      "note",
	"รายละเอียด":    "detail",
	"คำอธิบาย":      "description",
	"จำนวน":         "amount",
	"ราคา":          "price",
	"น้ำหนัก":       "weight",
	"ส่วนสูง":       "height",
	"สถานะ":         "status",
	"ประเภท":        "category",
	"แผนก":          "department",
	"ตำแหน่ง":       "position",
	"บริษัท":        "company",
	"องค์กร":        "organization",
	"โรงเรียน":      "school",
	"มหาวิทยาลัย":   "university",
	"อาชีพ":         "occupation",
	"เงินเดือน":     "salary",
	"รูปภาพ":        "image",
	"ไฟล์":          "file",
	"เอกสาร":        "document",
	"ลายเซ็น":       "signature",
	"คะแนน":         "score",
	"ความคิดเห็น":   "comment",
	"คำถาม":         "question",
	"คำตอบ":         "answer",
	"หัวข้อ":        "title",
	"เรื่อง":        "subject",
	"สาขา":          "branch",
	"รหัส":          "code",
	"เลขที่":        "number",
	"บัตรประชาชน":   "national_id",
	"สัญชาติ":       "nationality",
	"ศาสนา":         "religion",
	"ประเทศ":        "country",
	"เมือง":         "city",
	"ถนน":           "road",
	"ซอย":           "alley",
	"หมู่บ้าน":      "village",
	"สถานที่":       "location",
	"พิกัด":         "coordinates",
	"วันที่สมัคร":   "register_date",
	"วันที่เริ่ม":   "start_date",
	"วันที่สิ้นสุด": "end_date",
	"ผู้สมัคร":      "applicant",
	"ผู้ติดต่อ":     "contact_person",
	"แบบฟอร์ม":      "form",
	"การศึกษา":      "education",
	"ประสบการณ์":    "experience",
	"ทักษะ":         "skill",
	"ภาษา":          "language",
	"งบประมาณ":      "budget",
	"โครงการ":       "project",
	"กิจกรรม":       "activity",
	"หน่วยงาน":      "agency",
	"เขต":           "zone",
	"ภูมิภาค":       "region",
}

// lookupDictionary resolves a label (or its space-delimited tokens) through
// the curated dictionary. Returns the joined identifier and true only when
// every token resolved.
func lookupDictionary(label string) (string, bool) {
	if word, ok := fieldDictionary[label]; ok {
		return word, true
	}
	tokens := splitLabelTokens(label)
	if len(tokens) < 2 {
		return "", false
	}
	words := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		word, ok := fieldDictionary[tok]
		if !ok {
			return "", false
		}
		words = append(words, word)
	}
	return joinIdentifierWords(words), true
}
