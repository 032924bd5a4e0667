package operation

import "testing"

func TestRotateValidate(t *testing.T) {
	valid := []int{90, 180, 270}
	for _, d := range valid {
		if err := (Rotate{Degrees: d}).Validate(); err != nil {
			t.Errorf("Rotate{%d}.Validate() = %v, want nil", d, err)
		}
	}
	invalid := []int{0, 45, 360, -90}
	for _, d := range invalid {
		if err := (Rotate{Degrees: d}).Validate(); err == nil {
			t.Errorf("Rotate{%d}.Validate() = nil, want error", d)
		}
	}
}

func TestFlipValidateRequiresAtLeastOneAxis(t *testing.T) {
	if err := (Flip{}).Validate(); err == nil {
		t.Error("Flip{}.Validate() = nil, want error")
	}
	if err := (Flip{Horizontal: true}).Validate(); err != nil {
		t.Errorf("Flip{Horizontal:true}.Validate() = %v, want nil", err)
	}
	if err := (Flip{Vertical: true}).Validate(); err != nil {
		t.Errorf("Flip{Vertical:true}.Validate() = %v, want nil", err)
	}
}

func TestResizeValidate(t *testing.T) {
	cases := []struct {
		name    string
		r       Resize
		wantErr bool
	}{
		{"both zero", Resize{}, true},
		{"width too small", Resize{Width: 199}, true},
		{"width too large", Resize{Width: 4001}, true},
		{"height too small", Resize{Height: 100}, true},
		{"valid width only", Resize{Width: 800}, false},
		{"valid both", Resize{Width: 800, Height: 600}, false},
		{"boundary min", Resize{Width: 200}, false},
		{"boundary max", Resize{Width: 4000}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.r.Validate()
			if (err != nil) != tc.wantErr {
				t.Errorf("Validate() = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}

func TestCompressValidate(t *testing.T) {
	cases := []struct {
		quality int
		wantErr bool
	}{
		{9, true}, {10, false}, {100, false}, {101, true}, {50, false},
	}
	for _, tc := range cases {
		err := (Compress{Quality: tc.quality}).Validate()
		if (err != nil) != tc.wantErr {
			t.Errorf("Compress{%d}.Validate() = %v, wantErr %v", tc.quality, err, tc.wantErr)
		}
	}
}

func TestOpTypeString(t *testing.T) {
	cases := map[Type]string{
		TypeRotate:   "rotate",
		TypeFlip:     "flip",
		TypeResize:   "resize",
		TypeCompress: "compress",
	}
	for typ, want := range cases {
		if got := typ.String(); got != want {
			t.Errorf("Type(%d).String() = %q, want %q", typ, got, want)
		}
	}
}

func TestParamsRoundTripThroughMap(t *testing.T) {
	r := Rotate{Degrees: 180}
	p := r.Params()
	if p["degrees"] != 180 {
		t.Errorf("Params()[degrees] = %v, want 180", p["degrees"])
	}

	rz := Resize{Width: 800, Height: 600}
	p = rz.Params()
	if p["width"] != 800 || p["height"] != 600 {
		t.Errorf("Resize Params() = %v", p)
	}
}
